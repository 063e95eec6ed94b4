// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 tokengate 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertErrorCode / AssertErrorKind
  - 异步断言: AssertEventuallyTrue，支持超时轮询等待条件满足
  - 数据工具: MustJSON / MustParseJSON / TempManifestPath

# 子包

  - testutil/mocks: MockTransport（生成服务传输）与 MockContextService
    （远端上下文服务），均支持 Builder 模式与错误注入，并记录调用
  - testutil/fixtures: 预置响应、任务与价格表样例

# 使用示例

	ctx := testutil.TestContext(t)
	tr := mocks.NewMockTransport().WithText("hello").WithTokenUsage(100, 20)
	resp, err := tr.Call(ctx, dispatch.Payload{Contents: "hi"})
	require.NoError(t, err)
*/
package testutil

// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 tokengate 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、agent 等上层模块
提供统一的错误体系、Token 用量与上下文传播契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误，含 Retryable 标记与原因链
  - ErrorKind: 由 ErrorCode 推导的封闭错误分类
    (transient / content_blocked / budget / config / rate_limit_exhausted / cache / unknown)
  - TokenUsage: 单次调用的输入 / 输出 Token 数

# 主要能力

  - Context 传播：WithTraceID / WithTaskID 及对应提取函数
  - 错误判定：IsRetryable / GetErrorCode / KindOf / IsKind
  - 本地失败映射：context 超时与网络超时为 TIMEOUT，取消为 CANCELLED
*/
package types

// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 dispatch 是所有出站生成调用的唯一入口。

# 概述

Dispatcher 把一次逻辑调用串成固定的流水线：

	预算检查 -> RateGate 准入 -> RetryCoordinator(单次尝试超时 + Transport.Call)
	         -> 完成原因校验 -> CostLedger 记账 -> 预算复查 -> 遥测

准入凭证在整个逻辑调用期间持有（包括重试退避），并在任何退出路径上释放。

# 核心类型

  - Transport：传输契约（Call / CountTokens），由调用方注入。
  - HTTPTransport：JSON-over-HTTP 的 Transport 实现，同时实现上下文缓存服务。
  - CallSpec / Result：一次逻辑调用的输入与输出。
  - Telemetry / Sink：每次逻辑调用恰好产生一条遥测记录，Sink panic 不会外泄。

# 错误语义

  - 完成原因不是 stop / length 时立即返回 CONTENT_BLOCKED，不消耗重试。
  - 调用成功但记账后超出预算时，同时返回结果与 BUDGET_EXCEEDED 错误。
*/
package dispatch

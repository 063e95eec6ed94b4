// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 observability 将调度器的逐调用遥测转换为 OpenTelemetry 指标与追踪。

# 核心类型

  - Metrics：实现 dispatch.Sink。每条 Telemetry 记录请求计数、
    Token 计数、错误与重试计数、缓存命中、调用延迟与排队等待直方图，
    并补录一个覆盖整个逻辑调用区间的 client span。

默认使用全局 MeterProvider / TracerProvider，由 internal/telemetry
在启动时注册；未启用遥测时全局 provider 为 noop，记录开销可忽略。
*/
package observability

// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的调用链指标采集能力，覆盖
调用、预算、准入门、上下文缓存与策略选择五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：实现 dispatch.Sink，同时提供台账快照、预算告警、
    准入门统计、缓存未命中与策略决策的记录方法。

# 主要能力

  - 调用指标：请求总数、调用耗时、排队等待、Token 用量（input/output）、
    重试次数与错误码分布，按 model 分组。
  - 预算指标：累计成本、预算使用百分比、累计 Token 与阈值告警计数。
  - 准入门指标：在途调用数、窗口内准入数、等待次数。
  - 缓存指标：命中与未命中计数。
  - 策略指标：按优化器与动作统计的决策次数。
*/
package metrics

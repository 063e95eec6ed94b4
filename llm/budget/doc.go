// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 budget 提供会话级的 Token 成本台账与预算控制。

# 概述

生成服务按 Token 计费。Ledger 累计整个会话的输入 / 输出 Token，
按分级价格表换算成美元成本，并在成本接近或超过上限时告警或硬停。
Ledger 由调用方显式创建并注入 Dispatcher，生命周期即会话生命周期，
不提供重置操作。

# 核心类型

  - Ledger：成本台账，记录用量、计算成本、检查预算。
  - PricingTable：模型标识（小写）到有序价格档位的映射，首个匹配档位生效。
  - Tier：单个价格档位，MaxInputTokens 为 nil 表示无上限。
  - Alert / AlertHandler：阈值告警及其回调。

# 预算语义

  - 未配置上限（LimitUSD <= 0）时不做任何预算检查。
  - 每个告警阈值（默认 80/90/95%）在会话内至多触发一次。
  - 成本一旦超过上限，此后每次 CheckBudget 都返回 BUDGET_EXCEEDED。

# 使用方式

	ledger := budget.NewLedger(budget.Config{
	    Model:    "gemini-2.5-pro",
	    LimitUSD: 5,
	}, logger)
	ledger.OnAlert(func(a budget.Alert) { notify(a) })

	ledger.RecordUsage(1200, 300)
	if err := ledger.CheckBudget(); err != nil {
	    // 会话预算耗尽
	}
*/
package budget

// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 strategy 提供处理策略的选择能力：基于蒙特卡洛树搜索（MCTS）的
快速探索，以及按任务复杂度在快速探索与深度推理之间路由。

# 核心类型

  - Tree / Node：以整数下标组织的节点数组（arena），节点保存父下标、
    子下标列表、访问次数、累计奖励与未尝试动作。
  - Optimizer：固定迭代预算的 select → expand → simulate → backpropagate
    循环，返回访问次数最多的根子节点作为最佳动作。
  - Simulator：候选动作的评估契约；DispatchSimulator 通过调度器真实
    发起调用并打分。
  - KeywordClassifier：按关键词与长度把任务判为 fast 或 deep。
  - Router：显式模式直接执行，auto 模式先分类再分派到 Optimizer
    或外部 DeepSearcher。

Tree 不是并发安全的，它只在单次 Optimize 调用内存在；Optimizer 与
Router 可以被多个 goroutine 并发使用。
*/
package strategy

package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/types"
)

// DefaultIterations 默认迭代预算
const DefaultIterations = 20

// Task 待处理任务
type Task struct {
	ID          string `json:"id,omitempty"`
	Description string `json:"description"`
	Payload     string `json:"payload,omitempty"`
}

// Simulator 评估一个候选动作，返回 [0, +Inf) 的奖励
type Simulator interface {
	Simulate(ctx context.Context, action string, task Task) (float64, error)
}

// SimulatorFunc 函数适配器
type SimulatorFunc func(ctx context.Context, action string, task Task) (float64, error)

func (f SimulatorFunc) Simulate(ctx context.Context, action string, task Task) (float64, error) {
	return f(ctx, action, task)
}

// Config 优化器配置
type Config struct {
	Iterations  int      `json:"iterations"`
	Exploration float64  `json:"exploration"`
	Actions     []string `json:"actions"` // 候选动作；Expand 从末尾开始弹出
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Iterations:  DefaultIterations,
		Exploration: DefaultExploration,
	}
}

// Candidate 根子节点统计
type Candidate struct {
	Action    string  `json:"action"`
	Visits    int     `json:"visits"`
	AvgReward float64 `json:"avg_reward"`
}

// Outcome 一次搜索的结果
type Outcome struct {
	BestAction string        `json:"best_action"`
	Score      float64       `json:"score"` // 最佳动作的平均奖励
	Iterations int           `json:"iterations"`
	Candidates []Candidate   `json:"candidates,omitempty"` // 按访问次数降序
	Duration   time.Duration `json:"duration"`
}

// Optimizer MCTS 策略优化器。每次 Optimize 使用独立的树，可并发调用。
type Optimizer struct {
	config    Config
	simulator Simulator
	logger    *zap.Logger
}

// NewOptimizer 创建优化器
func NewOptimizer(config Config, simulator Simulator, logger *zap.Logger) (*Optimizer, error) {
	if simulator == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "strategy optimizer requires a simulator")
	}
	if config.Iterations <= 0 {
		config.Iterations = DefaultIterations
	}
	if config.Exploration <= 0 {
		config.Exploration = DefaultExploration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		config:    config,
		simulator: simulator,
		logger:    logger.With(zap.String("component", "mcts")),
	}, nil
}

// Config 返回生效配置
func (o *Optimizer) Config() Config {
	return o.config
}

// Optimize 执行固定预算的搜索。ctx 取消时停止并返回错误。
func (o *Optimizer) Optimize(ctx context.Context, task Task) (*Outcome, error) {
	start := time.Now()
	if len(o.config.Actions) == 0 {
		// 没有候选时搜索没有意义，模拟只会为根节点付费
		o.logger.Warn("no candidate actions configured, skipping search",
			zap.String("task_id", task.ID))
		return &Outcome{BestAction: RootAction, Duration: time.Since(start)}, nil
	}
	tree := NewTree(o.config.Actions, o.config.Exploration)

	for i := 0; i < o.config.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("optimize aborted after %d iterations: %w", i, err)
		}

		id := tree.Select(0)
		if child, ok := tree.Expand(id); ok {
			id = child
		}
		reward := o.simulate(ctx, tree.Node(id).Action, task)
		tree.Backpropagate(id, reward)
	}

	out := &Outcome{
		BestAction: RootAction,
		Iterations: o.config.Iterations,
		Duration:   time.Since(start),
	}
	if best, ok := tree.MostVisitedChild(0); ok {
		n := tree.Node(best)
		out.BestAction = n.Action
		out.Score = n.AvgReward()
	}
	out.Candidates = candidates(tree)

	o.logger.Info("strategy search finished",
		zap.String("task_id", task.ID),
		zap.String("best_action", out.BestAction),
		zap.Float64("score", out.Score),
		zap.Int("iterations", out.Iterations),
		zap.Int("nodes", tree.Len()),
		zap.Duration("duration", out.Duration))

	return out, nil
}

// simulate 吞掉模拟器的错误与 panic，记 0 分
func (o *Optimizer) simulate(ctx context.Context, action string, task Task) (reward float64) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("simulation panicked, scoring zero",
				zap.String("action", action),
				zap.Any("panic", r))
			reward = 0
		}
	}()

	reward, err := o.simulator.Simulate(ctx, action, task)
	if err != nil {
		o.logger.Debug("simulation failed, scoring zero",
			zap.String("action", action),
			zap.Error(err))
		return 0
	}
	if math.IsNaN(reward) || reward < 0 {
		return 0
	}
	return reward
}

func candidates(tree *Tree) []Candidate {
	root := tree.Root()
	out := make([]Candidate, 0, len(root.Children))
	for _, id := range root.Children {
		n := tree.Node(id)
		out = append(out, Candidate{Action: n.Action, Visits: n.Visits, AvgReward: n.AvgReward()})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Visits > out[j].Visits })
	return out
}

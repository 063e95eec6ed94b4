package strategy

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/types"
)

// DeepSearcher 外部深度推理搜索
type DeepSearcher interface {
	Search(ctx context.Context, task Task) (*Outcome, error)
}

// DeepSearcherFunc 函数适配器
type DeepSearcherFunc func(ctx context.Context, task Task) (*Outcome, error)

func (f DeepSearcherFunc) Search(ctx context.Context, task Task) (*Outcome, error) {
	return f(ctx, task)
}

// Decision 路由结果
type Decision struct {
	Optimizer  Mode     `json:"optimizer"`
	BestAction string   `json:"best_action"`
	Score      float64  `json:"score"`
	Requested  Mode     `json:"requested"`
	Outcome    *Outcome `json:"outcome,omitempty"`
}

// Router 策略路由器
type Router struct {
	optimizer  *Optimizer
	deep       DeepSearcher
	classifier Classifier
	logger     *zap.Logger
}

// NewRouter 创建路由器。deep 可为 nil，此时 deep 路由返回配置错误；classifier 为 nil 时使用默认关键词分类。
func NewRouter(optimizer *Optimizer, deep DeepSearcher, classifier Classifier, logger *zap.Logger) (*Router, error) {
	if optimizer == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "strategy router requires an optimizer")
	}
	if classifier == nil {
		classifier = NewKeywordClassifier(nil, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		optimizer:  optimizer,
		deep:       deep,
		classifier: classifier,
		logger:     logger.With(zap.String("component", "strategy_router")),
	}, nil
}

// Resolve 返回实际使用的模式：显式模式原样返回，auto 走分类，未知分类结果回落到 fast
func (r *Router) Resolve(task Task, mode Mode) Mode {
	switch mode {
	case ModeFast, ModeDeep:
		return mode
	}
	switch got := r.classifier.Classify(task.Description); got {
	case ModeFast, ModeDeep:
		return got
	default:
		r.logger.Debug("unknown classification, falling back to fast", zap.String("mode", string(got)))
		return ModeFast
	}
}

// Route 按模式执行策略搜索
func (r *Router) Route(ctx context.Context, task Task, mode Mode) (*Decision, error) {
	switch mode {
	case ModeAuto, ModeFast, ModeDeep:
	case "":
		mode = ModeAuto
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "unknown strategy mode %q", mode)
	}

	resolved := r.Resolve(task, mode)
	r.logger.Debug("strategy resolved",
		zap.String("task_id", task.ID),
		zap.String("requested", string(mode)),
		zap.String("resolved", string(resolved)))

	var (
		out *Outcome
		err error
	)
	if resolved == ModeDeep {
		if r.deep == nil {
			return nil, types.NewError(types.ErrInvalidConfig, "deep strategy requested but no deep searcher is configured")
		}
		out, err = r.deep.Search(ctx, task)
	} else {
		out, err = r.optimizer.Optimize(ctx, task)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &Outcome{BestAction: RootAction}
	}

	return &Decision{
		Optimizer:  resolved,
		BestAction: out.BestAction,
		Score:      out.Score,
		Requested:  mode,
		Outcome:    out,
	}, nil
}

package strategy

import (
	"context"
	"strings"

	"github.com/BaSui01/tokengate/llm/dispatch"
	"github.com/BaSui01/tokengate/types"
)

// Renderer 把候选动作与任务渲染为请求负载
type Renderer func(action string, task Task) (dispatch.Payload, error)

// Scorer 给一次成功调用打分
type Scorer func(task Task, res *dispatch.Result) float64

// DispatchSimulator 通过调度器真实执行候选动作
type DispatchSimulator struct {
	dispatcher *dispatch.Dispatcher
	render     Renderer
	score      Scorer
}

// NewDispatchSimulator 创建模拟器。score 为 nil 时使用 NonEmptyScore。
func NewDispatchSimulator(d *dispatch.Dispatcher, render Renderer, score Scorer) (*DispatchSimulator, error) {
	if d == nil || render == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "dispatch simulator requires a dispatcher and a renderer")
	}
	if score == nil {
		score = NonEmptyScore
	}
	return &DispatchSimulator{dispatcher: d, render: render, score: score}, nil
}

// Simulate 实现 Simulator
func (s *DispatchSimulator) Simulate(ctx context.Context, action string, task Task) (float64, error) {
	payload, err := s.render(action, task)
	if err != nil {
		return 0, err
	}
	res, err := s.dispatcher.Execute(ctx, dispatch.CallSpec{Payload: payload, Label: action})
	if err != nil {
		return 0, err
	}
	return s.score(task, res), nil
}

// NonEmptyScore 非空输出得 1 分
func NonEmptyScore(_ Task, res *dispatch.Result) float64 {
	if res == nil || strings.TrimSpace(res.Text) == "" {
		return 0
	}
	return 1
}

// TemplateRenderer 以动作名作为系统指令前缀，任务描述与负载作为内容
func TemplateRenderer(templates map[string]string) Renderer {
	return func(action string, task Task) (dispatch.Payload, error) {
		instr, ok := templates[action]
		if !ok {
			return dispatch.Payload{}, types.Errorf(types.ErrInvalidRequest, "no template for action %q", action)
		}
		contents := task.Description
		if task.Payload != "" {
			contents += "\n\n" + task.Payload
		}
		return dispatch.Payload{SystemInstruction: instr, Contents: contents}, nil
	}
}

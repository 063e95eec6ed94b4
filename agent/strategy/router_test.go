package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/tokengate/types"
)

type stubClassifier Mode

func (s stubClassifier) Classify(string) Mode { return Mode(s) }

func newTestRouter(t *testing.T, deep DeepSearcher, classifier Classifier) (*Router, *fixedRewards) {
	t.Helper()
	sim := newFixedRewards(map[string]float64{"a": 0.5})
	o, err := NewOptimizer(Config{Iterations: 4, Actions: []string{"a"}}, sim, nil)
	require.NoError(t, err)
	r, err := NewRouter(o, deep, classifier, zap.NewNop())
	require.NoError(t, err)
	return r, sim
}

func deepStub(calls *int) DeepSearcher {
	return DeepSearcherFunc(func(context.Context, Task) (*Outcome, error) {
		*calls++
		return &Outcome{BestAction: "chain-of-thought", Score: 0.7, Iterations: 1}, nil
	})
}

func TestNewRouter_RequiresOptimizer(t *testing.T) {
	_, err := NewRouter(nil, nil, nil, nil)
	assert.True(t, types.IsKind(err, types.KindConfig))
}

func TestRouter_ExplicitModeBypassesClassifier(t *testing.T) {
	var deepCalls int
	// 分类器总说 deep，显式 fast 必须忽略它
	r, sim := newTestRouter(t, deepStub(&deepCalls), stubClassifier(ModeDeep))

	d, err := r.Route(context.Background(), Task{Description: "why"}, ModeFast)
	require.NoError(t, err)
	assert.Equal(t, ModeFast, d.Optimizer)
	assert.Equal(t, "a", d.BestAction)
	assert.InDelta(t, 0.5, d.Score, 1e-12)
	assert.Equal(t, 4, sim.calls["a"])
	assert.Zero(t, deepCalls)

	d, err = r.Route(context.Background(), Task{Description: "list"}, ModeDeep)
	require.NoError(t, err)
	assert.Equal(t, ModeDeep, d.Optimizer)
	assert.Equal(t, "chain-of-thought", d.BestAction)
	assert.Equal(t, 1, deepCalls)
}

func TestRouter_AutoClassifies(t *testing.T) {
	var deepCalls int
	r, _ := newTestRouter(t, deepStub(&deepCalls), nil)

	d, err := r.Route(context.Background(), Task{Description: "explain the trade-off"}, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, ModeDeep, d.Optimizer)
	assert.Equal(t, ModeAuto, d.Requested)

	d, err = r.Route(context.Background(), Task{Description: "extract dates"}, "")
	require.NoError(t, err)
	assert.Equal(t, ModeFast, d.Optimizer)
	assert.Equal(t, ModeAuto, d.Requested)
}

func TestRouter_UnknownClassificationFallsBackToFast(t *testing.T) {
	r, _ := newTestRouter(t, nil, stubClassifier("medium"))

	assert.Equal(t, ModeFast, r.Resolve(Task{}, ModeAuto))
	d, err := r.Route(context.Background(), Task{}, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, ModeFast, d.Optimizer)
}

func TestRouter_DeepWithoutSearcher(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	_, err := r.Route(context.Background(), Task{}, ModeDeep)
	assert.True(t, types.IsKind(err, types.KindConfig))
}

func TestRouter_UnknownMode(t *testing.T) {
	r, _ := newTestRouter(t, nil, nil)

	_, err := r.Route(context.Background(), Task{}, Mode("turbo"))
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestRouter_NilDeepOutcome(t *testing.T) {
	deep := DeepSearcherFunc(func(context.Context, Task) (*Outcome, error) { return nil, nil })
	r, _ := newTestRouter(t, deep, nil)

	d, err := r.Route(context.Background(), Task{}, ModeDeep)
	require.NoError(t, err)
	assert.Equal(t, RootAction, d.BestAction)
}

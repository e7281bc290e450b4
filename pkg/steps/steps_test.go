package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ItsDalk-Lane/formflow/pkg/engine"
	"github.com/ItsDalk-Lane/formflow/pkg/schema"
)

func runFlow(t *testing.T, fl *schema.Flow, opts ...engine.Option) (*engine.Engine, error) {
	t.Helper()
	eng := engine.New(fl, Builtin(), opts...)
	return eng, eng.Run(context.Background())
}

func TestBuiltinRegistersCoreKinds(t *testing.T) {
	reg := Builtin()
	for _, kind := range []schema.StepKind{
		schema.KindSet, schema.KindOutput, schema.KindWait,
		schema.KindBreak, schema.KindContinue,
	} {
		_, ok := reg.Lookup(kind)
		assert.True(t, ok, "kind %q not registered", kind)
	}
}

func TestSetVariable(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "s", Kind: schema.KindSet, With: map[string]any{"name": "status", "value": "done"}},
	}}
	eng, err := runFlow(t, fl)
	require.NoError(t, err)
	assert.Equal(t, "done", eng.State().Vars["status"])
}

func TestSetField(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "s", Kind: schema.KindSet, With: map[string]any{"field": "f-123", "value": 7}},
	}}
	eng, err := runFlow(t, fl)
	require.NoError(t, err)
	assert.Equal(t, 7, eng.State().Fields["f-123"])
}

func TestSetValueExpr(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t",
		Vars: map[string]any{"count": 2},
		Steps: []schema.Step{
			{ID: "s", Kind: schema.KindSet, With: map[string]any{"name": "doubled", "value_expr": "count * 2"}},
		}}
	eng, err := runFlow(t, fl)
	require.NoError(t, err)
	assert.Equal(t, 4, eng.State().Vars["doubled"])
}

func TestSetResolvesLoopScopeValue(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "l", Kind: schema.KindLoop, Loop: &schema.Loop{
			Kind: schema.LoopList, Items: []any{"a", "b"},
			Steps: []schema.Step{
				{ID: "s", Kind: schema.KindSet, With: map[string]any{"name": "last", "value": "item"}},
			},
		}},
	}}
	eng, err := runFlow(t, fl)
	require.NoError(t, err)
	// "item" names the loop binding, so the literal is substituted with the
	// current item; the last iteration wins.
	assert.Equal(t, "b", eng.State().Vars["last"])
}

func TestSetWithoutTargetFails(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "s", Kind: schema.KindSet, With: map[string]any{"value": 1}},
	}}
	_, err := runFlow(t, fl)
	require.Error(t, err)
	assert.True(t, engine.IsCode(err, engine.CodeStepFailed))
}

func TestWaitObservesCancellation(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "w", Kind: schema.KindWait, With: map[string]any{"duration": "10s"}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	eng := engine.New(fl, Builtin())
	start := time.Now()
	require.NoError(t, eng.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitInvalidDuration(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "w", Kind: schema.KindWait, With: map[string]any{"duration": "soon"}},
	}}
	_, err := runFlow(t, fl)
	require.Error(t, err)
	assert.True(t, engine.IsCode(err, engine.CodeStepFailed))
}

func TestBreakStepTerminatesLoop(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "l", Kind: schema.KindLoop, Loop: &schema.Loop{
			Kind: schema.LoopList, Items: []any{1, 2, 3},
			Steps: []schema.Step{
				{ID: "mark", Kind: schema.KindSet, With: map[string]any{"name": "seen", "value_expr": "iteration"}},
				{ID: "stop", Kind: schema.KindBreak, When: "iteration == 2"},
			},
		}},
	}}
	eng, err := runFlow(t, fl)
	require.NoError(t, err)
	assert.Equal(t, 2, eng.State().Vars["seen"])
}

func TestContinueStepSkipsRest(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "l", Kind: schema.KindLoop, Loop: &schema.Loop{
			Kind: schema.LoopList, Items: []any{1, 2, 3},
			Steps: []schema.Step{
				{ID: "skip", Kind: schema.KindContinue, When: "item == 2"},
				{ID: "mark", Kind: schema.KindSet, With: map[string]any{"name": "last", "value": "item"}},
			},
		}},
	}}
	eng, err := runFlow(t, fl)
	require.NoError(t, err)
	// Item 2 was skipped but the loop still visited item 3.
	assert.Equal(t, 3, eng.State().Vars["last"])
}

func TestBreakOutsideLoopFails(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "b", Kind: schema.KindBreak},
	}}
	_, err := runFlow(t, fl)
	require.Error(t, err)
	assert.True(t, engine.IsCode(err, engine.CodeBreakOutsideLoop))
}

func TestContinueOutsideLoopFails(t *testing.T) {
	fl := &schema.Flow{APIVersion: "flow/v1", Name: "t", Steps: []schema.Step{
		{ID: "c", Kind: schema.KindContinue},
	}}
	_, err := runFlow(t, fl)
	require.Error(t, err)
	assert.True(t, engine.IsCode(err, engine.CodeContinueOutsideLoop))
}

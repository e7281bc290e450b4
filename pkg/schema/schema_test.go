package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFlow = `
apiVersion: flow/v1
name: daily-review
vars:
  project: inbox
defaults:
  timeout: 30s
steps:
  - id: greet
    kind: output
    with:
      message: starting
  - id: each-tag
    kind: loop
    loop:
      kind: list
      items: [a, b, c]
      as: tag
      steps:
        - id: show-tag
          kind: output
          with:
            message: tag
`

func writeFlow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidFlow(t *testing.T) {
	fl, err := Load(strings.NewReader(validFlow))
	require.NoError(t, err)
	assert.Equal(t, "flow/v1", fl.APIVersion)
	assert.Equal(t, "daily-review", fl.Name)
	require.Len(t, fl.Steps, 2)
	assert.Equal(t, KindLoop, fl.Steps[1].Kind)
	require.NotNil(t, fl.Steps[1].Loop)
	assert.Equal(t, LoopList, fl.Steps[1].Loop.Kind)
	assert.Equal(t, "tag", fl.Steps[1].Loop.As)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(strings.NewReader(`
apiVersion: flow/v1
name: x
bogus: true
steps: []
`))
	assert.Error(t, err)
}

func TestValidateFileValid(t *testing.T) {
	fl, errs := ValidateFile(writeFlow(t, validFlow))
	require.NotNil(t, fl)
	assert.Empty(t, errs)
}

func TestValidateFileMissingFile(t *testing.T) {
	fl, errs := ValidateFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Nil(t, fl)
	require.Len(t, errs, 1)
	assert.Equal(t, "structural", errs[0].Phase)
}

func TestValidateDomainRules(t *testing.T) {
	step0 := 0
	tests := []struct {
		name    string
		flow    *Flow
		wantMsg string
	}{
		{
			"duplicate step id",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "a", Kind: "output"},
				{ID: "a", Kind: "output"},
			}},
			"duplicate step id",
		},
		{
			"duplicate id inside loop body",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "a", Kind: "output"},
				{ID: "l", Kind: KindLoop, Loop: &Loop{
					Kind: LoopList, Items: []any{1},
					Steps: []Step{{ID: "a", Kind: "output"}},
				}},
			}},
			"duplicate step id",
		},
		{
			"bad apiVersion",
			&Flow{APIVersion: "flow/v2", Name: "x", Steps: []Step{{ID: "a", Kind: "output"}}},
			"unrecognized apiVersion",
		},
		{
			"range step zero",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "l", Kind: KindLoop, Loop: &Loop{
					Kind: LoopRange, Start: 0, End: 3, Step: &step0,
					Steps: []Step{{ID: "b", Kind: "output"}},
				}},
			}},
			"must not be zero",
		},
		{
			"while loop without condition",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "l", Kind: KindLoop, Loop: &Loop{
					Kind:  LoopWhile,
					Steps: []Step{{ID: "b", Kind: "output"}},
				}},
			}},
			"requires while or while_expr",
		},
		{
			"pages loop without has_next",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "l", Kind: KindLoop, Loop: &Loop{
					Kind:  LoopPages,
					Steps: []Step{{ID: "b", Kind: "output"}},
				}},
			}},
			"requires has_next",
		},
		{
			"list loop without items or source",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "l", Kind: KindLoop, Loop: &Loop{
					Kind:  LoopList,
					Steps: []Step{{ID: "b", Kind: "output"}},
				}},
			}},
			"requires items or source",
		},
		{
			"empty loop body",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "l", Kind: KindLoop, Loop: &Loop{Kind: LoopList, Items: []any{1}}},
			}},
			"at least one step",
		},
		{
			"bad duration",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "a", Kind: "output", Timeout: "soon"},
			}},
			"invalid duration",
		},
		{
			"loop config on non-loop step",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "a", Kind: "output", Loop: &Loop{Kind: LoopList, Items: []any{1}, Steps: []Step{{ID: "b", Kind: "output"}}}},
			}},
			"only valid on kind",
		},
		{
			"unknown error strategy",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "l", Kind: KindLoop, Loop: &Loop{
					Kind: LoopList, Items: []any{1},
					OnError: &ErrorPolicy{Strategy: "explode"},
					Steps:   []Step{{ID: "b", Kind: "output"}},
				}},
			}},
			"unknown error strategy",
		},
		{
			"group condition without operator",
			&Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
				{ID: "a", Kind: "output", Condition: &Condition{
					Children: []*Condition{{Property: "p", Op: OpEq, Value: 1}},
				}},
			}},
			"requires operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateDomain(tt.flow)
			require.NotEmpty(t, errs)
			found := false
			for _, e := range errs {
				if strings.Contains(e.Message, tt.wantMsg) {
					found = true
				}
			}
			assert.True(t, found, "expected an error containing %q, got %v", tt.wantMsg, errs)
		})
	}
}

func TestValidateDomainAcceptsDefaultRangeStep(t *testing.T) {
	fl := &Flow{APIVersion: "flow/v1", Name: "x", Steps: []Step{
		{ID: "l", Kind: KindLoop, Loop: &Loop{
			Kind: LoopRange, Start: 0, End: 3,
			Steps: []Step{{ID: "b", Kind: "output"}},
		}},
	}}
	assert.Empty(t, ValidateDomain(fl))
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, "apiVersion")
	assert.Contains(t, s, "steps")
}

func TestWalkStepsVisitsLoopBodies(t *testing.T) {
	fl := &Flow{Steps: []Step{
		{ID: "a"},
		{ID: "l", Loop: &Loop{Steps: []Step{
			{ID: "b"},
			{ID: "inner", Loop: &Loop{Steps: []Step{{ID: "c"}}}},
		}}},
	}}
	var ids []string
	WalkSteps(fl.Steps, func(s *Step) { ids = append(ids, s.ID) })
	assert.Equal(t, []string{"a", "l", "b", "inner", "c"}, ids)
}

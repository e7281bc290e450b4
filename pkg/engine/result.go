package engine

import (
	"time"

	"github.com/ItsDalk-Lane/formflow/pkg/schema"
)

// Status classifies a step result.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StepResult records the execution of one step for tracing.
type StepResult struct {
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id"`
	Kind      schema.StepKind `json:"kind"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

// Summary counts step results by status over one run.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (s *Summary) record(status Status) {
	s.Total++
	switch status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

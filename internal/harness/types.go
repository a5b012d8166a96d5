package harness

import (
	"fmt"

	"github.com/roach88/zkfold/internal/canon"
)

// TraceEvent records one step of a scenario run.
type TraceEvent struct {
	Step    int    `json:"step"`
	Label   string `json:"label,omitempty"`
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Outcome string `json:"outcome"`
}

func (e TraceEvent) String() string {
	kind := e.Type
	if e.Subtype != "" {
		kind += "/" + e.Subtype
	}
	if e.Label != "" {
		return fmt.Sprintf("%s %s -> %s", e.Label, kind, e.Outcome)
	}
	return fmt.Sprintf("%s -> %s", kind, e.Outcome)
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every step had its expected outcome and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace lists the steps in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors describes each failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Outcomes counts steps by outcome.
	Outcomes map[string]int `json:"outcomes"`

	snapshot canon.Object
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Outcomes: map[string]int{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a trace event and counts its outcome.
func (r *Result) AddStep(e TraceEvent) {
	e.Step = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
	r.Outcomes[e.Outcome]++
}

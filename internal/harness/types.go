package harness

import (
	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/world"
)

// StepResult records what one step did.
type StepResult struct {
	Step     int    `json:"step"`
	Op       string `json:"op"`
	Appended int    `json:"appended,omitempty"`
	Flushed  bool   `json:"flushed,omitempty"`

	// Error is the validation code of a failed step, or the error text
	// when the failure was not a validation error.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step matched its expect clause and every assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Index is the tile's index; nil when nothing was flushed.
	Index *world.Index `json:"index,omitempty"`

	Manifest []world.ManifestEntry `json:"manifest"`

	// Buffered is the number of events left unflushed.
	Buffered int `json:"buffered"`

	// State is the materialized state of the durable history.
	State     nf.NormalState `json:"state"`
	StateHash addr.HashRef   `json:"state_hash"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Steps:    []StepResult{},
		Errors:   []string{},
		Manifest: []world.ManifestEntry{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

package harness

import "github.com/roach88/graphsync/internal/ir"

// PassResult summarizes one executed pass.
type PassResult struct {
	Name      string `json:"name"`
	PassID    string `json:"pass_id"`
	ErrorCode string `json:"error,omitempty"`
	Changes   int    `json:"changes"`
	Mappings  int    `json:"mappings"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Passes []PassResult `json:"passes"`

	// Log is the whole change log after the last pass.
	Log []ir.AuditEntry `json:"log"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Passes: []PassResult{},
		Log:    []ir.AuditEntry{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

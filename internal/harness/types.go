package harness

import (
	"github.com/brunoerg/fuzzamoto/internal/scenario"
	"github.com/brunoerg/fuzzamoto/internal/testutil"
)

// TraceEvent is one call the scheduler made on a simulated target.
type TraceEvent struct {
	Seq        int64  `json:"seq"`
	Target     string `json:"target"`
	Kind       string `json:"kind"`
	Connection int    `json:"connection,omitempty"`
	Command    string `json:"command,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Time       uint64 `json:"time,omitempty"`
	Method     string `json:"method,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
}

// onConnection reports whether the event targets a specific connection.
func (e TraceEvent) onConnection() bool {
	switch e.Kind {
	case testutil.EventSend, testutil.EventSendAndPing, testutil.EventPing:
		return true
	}
	return false
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success: every assertion held.
	Pass bool `json:"pass"`

	// Run is the scheduler's verdict for the executed test case.
	Run scenario.Result `json:"run"`

	// Trace contains every target call in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvents appends recorded fake-target events to the trace.
func (r *Result) AddEvents(events []testutil.Event) {
	for _, e := range events {
		r.Trace = append(r.Trace, TraceEvent(e))
	}
}

package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the observable outcome of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Run          RunSnapshot  `json:"run"`
	Trace        []TraceEvent `json:"trace"`
}

// RunSnapshot is the verdict part of a snapshot.
type RunSnapshot struct {
	RunID    string `json:"run_id"`
	Pass     bool   `json:"pass"`
	Oracle   string `json:"oracle,omitempty"`
	Actions  int    `json:"actions"`
	RPCCalls int    `json:"rpc_calls"`
}

// NewSnapshot builds the snapshot of a scenario result.
func NewSnapshot(name string, result *Result) TraceSnapshot {
	return TraceSnapshot{
		ScenarioName: name,
		Run: RunSnapshot{
			RunID:    result.Run.RunID,
			Pass:     result.Run.Pass,
			Oracle:   result.Run.Oracle,
			Actions:  result.Run.Actions,
			RPCCalls: result.Run.RPCCalls,
		},
		Trace: result.Trace,
	}
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Zero-valued optional fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":    event.Seq,
			"target": event.Target,
			"kind":   event.Kind,
		}
		if event.onConnection() {
			eventMap["connection"] = event.Connection
		}
		if event.Command != "" {
			eventMap["command"] = event.Command
		}
		if event.Payload != "" {
			eventMap["payload"] = event.Payload
		}
		if event.Time != 0 {
			eventMap["time"] = event.Time
		}
		if event.Method != "" {
			eventMap["method"] = event.Method
		}
		if event.Failed {
			eventMap["failed"] = true
		}
		traceList[i] = eventMap
	}

	run := map[string]any{
		"run_id":    s.Run.RunID,
		"pass":      s.Run.Pass,
		"actions":   s.Run.Actions,
		"rpc_calls": s.Run.RPCCalls,
	}
	if s.Run.Oracle != "" {
		run["oracle"] = s.Run.Oracle
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"run":           run,
		"trace":         traceList,
	}
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenarioName, result)
	traceJSON, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}

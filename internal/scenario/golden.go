package scenario

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/docstore/internal/testutil"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Source   string       `json:"source"`
	Trace    []TraceEvent `json:"trace"`
}

// MarshalTrace renders the trace of a run of sc as indented JSON.
func MarshalTrace(sc *Scenario, result *Result) ([]byte, error) {
	src := sc.Source
	if src == "" {
		src = testutil.DefaultSource
	}
	return json.MarshalIndent(TraceSnapshot{
		Scenario: sc.Name,
		Source:   src,
		Trace:    result.Trace,
	}, "", "  ")
}

// RunWithGolden runs sc in an isolated store and compares the trace against
// testdata/golden/{sc.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/scenario -update
//
// Returns an error if the scenario cannot be executed. Trace mismatches fail
// t through goldie.
func RunWithGolden(t *testing.T, sc *Scenario) (*Result, error) {
	t.Helper()

	result, err := RunIsolated(context.Background(), sc)
	if err != nil {
		return nil, err
	}

	trace, err := MarshalTrace(sc, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, trace)

	return result, nil
}

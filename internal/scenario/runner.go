package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/docstore/internal/opgen"
	"github.com/roach88/docstore/internal/pool"
	"github.com/roach88/docstore/internal/store"
	"github.com/roach88/docstore/internal/testutil"
)

// Step actions as they appear in traces.
const (
	ActionCommit      = "commit"
	ActionGetSnapshot = "get_snapshot"
	ActionGetOps      = "get_ops"
)

// defaultType is the document type of created documents when a commit step
// names none.
const defaultType = "json0"

// TraceEvent records one executed step.
type TraceEvent struct {
	Step     int             `json:"step"`
	Action   string          `json:"action"`
	ID       string          `json:"id"`
	Version  int64           `json:"version,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	OK       *bool           `json:"ok,omitempty"`
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
	Ops      []int64         `json:"ops,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

func newResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

func (r *Result) fail(step int, format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf("step %d: ", step)+fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run executes sc against a. Expectation mismatches fail the Result; the
// returned error is reserved for steps that cannot be executed at all.
func Run(ctx context.Context, a store.Adapter, sc *Scenario) (*Result, error) {
	r := &runner{
		adapter:    a,
		collection: sc.Collection,
		ops:        opgen.NewBuilder(testutil.NewFixedSource(sc.Source), testutil.NewDeterministicClock()),
		result:     newResult(),
	}
	if r.collection == "" {
		r.collection = DefaultCollection
	}

	for i, step := range sc.Steps {
		var err error
		switch {
		case step.Commit != nil:
			err = r.commit(ctx, i, step.Commit, step.Expect)
		case step.GetSnapshot != nil:
			r.getSnapshot(ctx, i, step.GetSnapshot, step.Expect)
		case step.GetOps != nil:
			r.getOps(ctx, i, step.GetOps, step.Expect)
		}
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	log.WithFields(log.Fields{
		"scenario": sc.Name,
		"steps":    len(sc.Steps),
		"pass":     r.result.Pass,
	}).Debug("ran scenario")

	return r.result, nil
}

// RunIsolated runs sc against a fresh SQLite store in a temporary directory
// that is removed afterwards.
func RunIsolated(ctx context.Context, sc *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "docstore-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	s, err := store.Open(pool.Config{
		Driver: pool.DriverSQLite,
		DSN:    filepath.Join(dir, "scenario.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario store: %w", err)
	}
	defer s.Close()

	return Run(ctx, s, sc)
}

type runner struct {
	adapter    store.Adapter
	collection string
	ops        *opgen.Builder
	result     *Result
}

func (r *runner) commit(ctx context.Context, i int, c *CommitStep, expect *Expect) error {
	payload, snap, err := r.build(c)
	if err != nil {
		return err
	}

	ok, err := r.adapter.Commit(ctx, r.collection, c.ID, payload, snap)
	event := TraceEvent{
		Step:    i,
		Action:  ActionCommit,
		ID:      c.ID,
		Version: c.Version,
		Payload: payload,
		OK:      &ok,
	}
	r.record(i, event, err, expect)

	if err == nil && expect != nil && expect.OK != nil && *expect.OK != ok {
		r.result.fail(i, "commit %s v%d: expected ok=%t, got %t", c.ID, c.Version, *expect.OK, ok)
	}
	return nil
}

// build turns a commit step into the op payload and post-commit snapshot.
func (r *runner) build(c *CommitStep) (json.RawMessage, store.Snapshot, error) {
	snap := store.Snapshot{ID: c.ID, Version: c.Version}
	if c.Delete {
		payload, err := r.ops.Delete(c.Version)
		return payload, snap, err
	}

	snap.Type = c.Type
	if snap.Type == "" {
		snap.Type = defaultType
	}
	if c.Data != nil {
		data, err := json.Marshal(c.Data)
		if err != nil {
			return nil, snap, fmt.Errorf("marshal data: %w", err)
		}
		snap.Data = data
	}

	var payload json.RawMessage
	var err error
	switch {
	case c.Op != nil:
		var components []byte
		if components, err = json.Marshal(c.Op); err != nil {
			return nil, snap, fmt.Errorf("marshal op: %w", err)
		}
		payload, err = r.ops.Op(c.Version, components)
	case c.Version == 1:
		payload, err = r.ops.Create(snap.Type, snap.Data)
	default:
		payload, err = r.ops.Replace(c.Version, snap.Data)
	}
	return payload, snap, err
}

func (r *runner) getSnapshot(ctx context.Context, i int, ref *DocRef, expect *Expect) {
	snap, err := r.adapter.GetSnapshot(ctx, r.collection, ref.ID)
	event := TraceEvent{Step: i, Action: ActionGetSnapshot, ID: ref.ID}
	if err == nil {
		event.Snapshot = &snap
	}
	r.record(i, event, err, expect)
	if err != nil || expect == nil {
		return
	}

	if expect.Version != nil && *expect.Version != snap.Version {
		r.result.fail(i, "snapshot %s: expected version %d, got %d", ref.ID, *expect.Version, snap.Version)
	}
	if expect.Type != nil && *expect.Type != snap.Type {
		r.result.fail(i, "snapshot %s: expected type %q, got %q", ref.ID, *expect.Type, snap.Type)
	}
	if expect.Data != nil {
		if eq, err := jsonEqual(expect.Data, snap.Data); err != nil {
			r.result.fail(i, "snapshot %s: %v", ref.ID, err)
		} else if !eq {
			r.result.fail(i, "snapshot %s: data mismatch, got %s", ref.ID, snap.Data)
		}
	}
}

func (r *runner) getOps(ctx context.Context, i int, step *OpsStep, expect *Expect) {
	ops, err := r.adapter.GetOps(ctx, r.collection, step.ID, step.From, step.To)
	event := TraceEvent{Step: i, Action: ActionGetOps, ID: step.ID}
	if err == nil {
		event.Ops = make([]int64, len(ops))
		for j, op := range ops {
			event.Ops[j] = op.Version
		}
	}
	r.record(i, event, err, expect)
	if err != nil || expect == nil || expect.Versions == nil {
		return
	}

	if !reflect.DeepEqual(expect.Versions, event.Ops) {
		r.result.fail(i, "ops %s: expected versions %v, got %v", step.ID, expect.Versions, event.Ops)
	}
}

// record appends event to the trace and checks err against the expected
// error code.
func (r *runner) record(i int, event TraceEvent, err error, expect *Expect) {
	want := ""
	if expect != nil {
		want = expect.Error
	}

	if err != nil {
		var se *store.Error
		if errors.As(err, &se) {
			event.Error = string(se.Code)
		} else {
			event.Error = err.Error()
		}
		event.OK = nil
	}
	r.result.Trace = append(r.result.Trace, event)

	switch {
	case err != nil && want == "":
		r.result.fail(i, "%s %s: unexpected error: %v", event.Action, event.ID, err)
	case event.Error != want:
		r.result.fail(i, "%s %s: expected error %q, got %q", event.Action, event.ID, want, event.Error)
	}
}

// jsonEqual compares a YAML-decoded value with raw JSON as JSON values.
func jsonEqual(want any, got json.RawMessage) (bool, error) {
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return false, fmt.Errorf("marshal expected data: %w", err)
	}
	var a, b any
	if err := json.Unmarshal(wantJSON, &a); err != nil {
		return false, err
	}
	if len(got) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(got, &b); err != nil {
		return false, fmt.Errorf("decode snapshot data: %w", err)
	}
	return reflect.DeepEqual(a, b), nil
}

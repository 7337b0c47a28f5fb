package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultCollection is used when a scenario names no collection.
const DefaultCollection = "docs"

// Scenario is a scripted sequence of store calls with expected outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Collection every step addresses. Defaults to DefaultCollection.
	Collection string `yaml:"collection,omitempty"`

	// Source is the fixed op source id, so built payloads are reproducible.
	Source string `yaml:"source,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step performs exactly one of Commit, GetSnapshot and GetOps.
type Step struct {
	Commit      *CommitStep `yaml:"commit,omitempty"`
	GetSnapshot *DocRef     `yaml:"get_snapshot,omitempty"`
	GetOps      *OpsStep    `yaml:"get_ops,omitempty"`

	// Expect is checked against the step's outcome. Nil checks nothing
	// beyond the step not failing with an error.
	Expect *Expect `yaml:"expect,omitempty"`
}

// CommitStep commits one op. The payload is built from Op when set, as a
// delete when Delete is set, as a create at version 1, and otherwise as a
// whole-document replace with Data.
type CommitStep struct {
	ID      string `yaml:"id"`
	Version int64  `yaml:"version"`
	Type    string `yaml:"type,omitempty"`
	Data    any    `yaml:"data,omitempty"`
	Op      any    `yaml:"op,omitempty"`
	Delete  bool   `yaml:"delete,omitempty"`
}

// DocRef names a document in the scenario's collection.
type DocRef struct {
	ID string `yaml:"id"`
}

// OpsStep reads ops in (From, To]. A nil To reads to the latest version.
type OpsStep struct {
	ID   string `yaml:"id"`
	From int64  `yaml:"from"`
	To   *int64 `yaml:"to,omitempty"`
}

// Expect holds the expected outcome of a step. Only set fields are checked.
type Expect struct {
	// OK is the commit result.
	OK *bool `yaml:"ok,omitempty"`

	// Error is the expected store error code, e.g. "QUERY".
	Error string `yaml:"error,omitempty"`

	// Version, Type and Data are checked against a read snapshot. Data is
	// compared as JSON values.
	Version *int64  `yaml:"version,omitempty"`
	Type    *string `yaml:"type,omitempty"`
	Data    any     `yaml:"data,omitempty"`

	// Versions lists the op versions get_ops must return, in order.
	Versions []int64 `yaml:"versions,omitempty"`
}

// Load reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains unknown
// fields (typos), or is missing required fields.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario from YAML and validates it.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if sc.Collection == "" {
		sc.Collection = DefaultCollection
	}
	if err := validate(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validate(sc *Scenario) error {
	if sc.Name == "" {
		return errors.New("name is required")
	}
	if sc.Description == "" {
		return errors.New("description is required")
	}
	if len(sc.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}

	for i, step := range sc.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one of commit, get_snapshot, get_ops is required, got %d", i, n)
		}
		if c := step.Commit; c != nil && c.Op != nil && c.Delete {
			return fmt.Errorf("steps[%d].commit: op and delete are mutually exclusive", i)
		}
		if e := step.Expect; e != nil {
			if step.Commit == nil && e.OK != nil {
				return fmt.Errorf("steps[%d].expect: ok only applies to commit", i)
			}
			if step.GetOps == nil && e.Versions != nil {
				return fmt.Errorf("steps[%d].expect: versions only applies to get_ops", i)
			}
		}
	}
	return nil
}

func (s Step) actions() int {
	n := 0
	if s.Commit != nil {
		n++
	}
	if s.GetSnapshot != nil {
		n++
	}
	if s.GetOps != nil {
		n++
	}
	return n
}

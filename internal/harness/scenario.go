package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/graphsync/internal/audit"
	"github.com/roach88/graphsync/internal/desired"
)

// Scenario is one reconciliation test case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Graph names the graph under test inside Schema.
	Graph string `yaml:"graph"`

	// Schema is CUE source declaring the graph.
	Schema string `yaml:"schema"`

	Actor   string `yaml:"actor"`
	Context string `yaml:"context"`

	// StrictReferences fails passes that would persist a placeholder
	// reference.
	StrictReferences bool `yaml:"strict_references,omitempty"`

	// Passes run in order against the same store.
	Passes []PassStep `yaml:"passes"`

	// Assertions are checked after the last pass.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// PassStep is one reconciliation pass.
type PassStep struct {
	Name string `yaml:"name"`

	// Transaction runs the pass atomically.
	Transaction bool `yaml:"transaction,omitempty"`

	// Payload is the change log payload mode: full, suppress, or truncate.
	// Empty means the default policy.
	Payload string `yaml:"payload,omitempty"`

	// MaxPayload caps payload size under truncate.
	MaxPayload int `yaml:"max_payload,omitempty"`

	Desired desired.Document `yaml:"desired"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks one pass's outcome.
type ExpectClause struct {
	// Error is the expected pass error code, e.g. SINGLETON_VIOLATION.
	// Empty means the pass must succeed.
	Error string `yaml:"error,omitempty"`

	// Changes is the expected number of applied changes.
	Changes *int `yaml:"changes,omitempty"`

	// Mappings is the expected number of created records.
	Mappings *int `yaml:"mappings,omitempty"`
}

// Assertion validates the change log or final state.
type Assertion struct {
	// Type is one of change_count, change_order, final_state, chain_valid.
	Type string `yaml:"type"`

	// PassID, Action, and ObjectType filter change_count. Empty matches all.
	PassID     string `yaml:"pass_id,omitempty"`
	Action     string `yaml:"action,omitempty"`
	ObjectType string `yaml:"object_type,omitempty"`

	// Count is the expected number of entries (change_count) or records
	// (final_state).
	Count *int `yaml:"count,omitempty"`

	// Changes lists "action object_type" pairs in expected order
	// (change_order).
	Changes []string `yaml:"changes,omitempty"`

	// Collection, Where, and Expect drive final_state: every stored record of
	// Collection whose fields equal Where must carry the Expect fields.
	Collection string         `yaml:"collection,omitempty"`
	Where      map[string]any `yaml:"where,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertChangeCount = "change_count"
	AssertChangeOrder = "change_order"
	AssertFinalState  = "final_state"
	AssertChainValid  = "chain_valid"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, or is missing
// required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown top-level, pass, expect, and
// assertion keys are rejected so typos surface early.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Graph == "" {
		return errors.New("graph is required")
	}
	if s.Schema == "" {
		return errors.New("schema is required")
	}
	if len(s.Passes) == 0 {
		return errors.New("passes list is required and must be non-empty")
	}

	for i, p := range s.Passes {
		if p.Name == "" {
			return fmt.Errorf("passes[%d]: name is required", i)
		}
		if p.Payload != "" {
			if _, err := audit.ParseMode(p.Payload); err != nil {
				return fmt.Errorf("passes[%d]: %w", i, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

// validateAssertion checks that an assertion has the fields its type needs.
func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertChangeCount:
		if a.Count == nil {
			return errors.New("change_count requires count")
		}
	case AssertChangeOrder:
		if len(a.Changes) == 0 {
			return errors.New("change_order requires changes")
		}
	case AssertFinalState:
		if a.Collection == "" {
			return errors.New("final_state requires collection")
		}
		if a.Count == nil && len(a.Expect) == 0 {
			return errors.New("final_state requires count or expect")
		}
	case AssertChainValid:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

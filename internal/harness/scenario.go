package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session against a fresh manager.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// IDs are handed to new blocks in order. Once exhausted, ids fall back
	// to blk_<n>.
	IDs []string `yaml:"ids,omitempty"`

	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one manager call.
type Step struct {
	Action string `yaml:"action"`

	// Block is the target; Parent is used by create_child and create_manual.
	Block  string `yaml:"block,omitempty"`
	Parent string `yaml:"parent,omitempty"`

	// Operations in the workflow wire form.
	Operations []any `yaml:"operations,omitempty"`

	// complete
	Success         *bool          `yaml:"success,omitempty"`
	RawText         string         `yaml:"raw_text,omitempty"`
	OutputVariables map[string]any `yaml:"output_variables,omitempty"`

	// create_child, regenerate
	Params map[string]any `yaml:"params,omitempty"`

	// create_manual, content
	Content  string            `yaml:"content,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty"`

	// game_state
	GameState map[string]any `yaml:"game_state,omitempty"`

	// delete
	Recursive bool `yaml:"recursive,omitempty"`
	Force     bool `yaml:"force,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks a step's outcome. Status and Error are exclusive.
type Expect struct {
	Status string `yaml:"status,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// Assertion validates the final tree or the event trace.
type Assertion struct {
	Type  string `yaml:"type"`
	Block string `yaml:"block,omitempty"`

	// status
	Status string `yaml:"status,omitempty"`

	// status_sequence
	Statuses []string `yaml:"statuses,omitempty"`

	// entity, missing
	EntityType string         `yaml:"entity_type,omitempty"`
	EntityID   string         `yaml:"entity_id,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty"`

	// path, selected_path
	Path []string `yaml:"path,omitempty"`

	// conflict: ai, user, conflicting_ai, conflicting_user
	Sizes map[string]int `yaml:"sizes,omitempty"`

	// content
	Content *string `yaml:"content,omitempty"`

	// block_count
	Count int `yaml:"count,omitempty"`
}

// Step actions.
const (
	ActionApply        = "apply"
	ActionCreateChild  = "create_child"
	ActionCreateManual = "create_manual"
	ActionRegenerate   = "regenerate"
	ActionComplete     = "complete"
	ActionResolve      = "resolve"
	ActionForceIdle    = "force_idle"
	ActionDelete       = "delete"
	ActionSelect       = "select"
	ActionGameState    = "game_state"
	ActionContent      = "content"
)

// Assertion types.
const (
	AssertStatus         = "status"
	AssertStatusSequence = "status_sequence"
	AssertEntity         = "entity"
	AssertMissing        = "missing"
	AssertPath           = "path"
	AssertSelectedPath   = "selected_path"
	AssertConflict       = "conflict"
	AssertContent        = "content"
	AssertBlockCount     = "block_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario is LoadScenario for an in-memory document.
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

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Action {
	case ActionCreateChild, ActionCreateManual:
		if s.Parent == "" {
			return fmt.Errorf("flow[%d]: parent is required for %s", index, s.Action)
		}
	case ActionApply, ActionRegenerate, ActionComplete, ActionResolve, ActionForceIdle,
		ActionDelete, ActionSelect, ActionGameState, ActionContent:
		if s.Block == "" {
			return fmt.Errorf("flow[%d]: block is required for %s", index, s.Action)
		}
	case "":
		return fmt.Errorf("flow[%d]: action is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown action %q", index, s.Action)
	}

	if s.Expect != nil {
		if s.Expect.Status != "" && s.Expect.Error != "" {
			return fmt.Errorf("flow[%d].expect: status and error are exclusive", index)
		}
		if s.Expect.Error != "" {
			if _, ok := errorKinds[s.Expect.Error]; !ok {
				return fmt.Errorf("flow[%d].expect: unknown error kind %q", index, s.Expect.Error)
			}
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needBlock := func() error {
		if a.Block == "" {
			return fmt.Errorf("assertions[%d]: block is required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for status", index)
		}
		return needBlock()
	case AssertStatusSequence:
		if len(a.Statuses) == 0 {
			return fmt.Errorf("assertions[%d]: statuses list is required for status_sequence", index)
		}
		return needBlock()
	case AssertEntity, AssertMissing:
		if a.EntityType == "" || a.EntityID == "" {
			return fmt.Errorf("assertions[%d]: entity_type and entity_id are required for %s", index, a.Type)
		}
		if a.Type == AssertEntity && len(a.Attributes) == 0 {
			return fmt.Errorf("assertions[%d]: attributes are required for entity", index)
		}
		return needBlock()
	case AssertPath:
		if len(a.Path) == 0 {
			return fmt.Errorf("assertions[%d]: path is required for path", index)
		}
		return needBlock()
	case AssertSelectedPath:
		if len(a.Path) == 0 {
			return fmt.Errorf("assertions[%d]: path is required for selected_path", index)
		}
	case AssertConflict:
		if len(a.Sizes) == 0 {
			return fmt.Errorf("assertions[%d]: sizes are required for conflict", index)
		}
		return needBlock()
	case AssertContent:
		if a.Content == nil {
			return fmt.Errorf("assertions[%d]: content is required for content", index)
		}
		return needBlock()
	case AssertBlockCount:
		if a.Count < 1 {
			return fmt.Errorf("assertions[%d]: count must be at least 1 for block_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

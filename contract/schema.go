package contract

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaJSON is the canonical JSON Schema for the wire representation of a
// Contract document (SPEC_FULL.md "SUPPLEMENTED FEATURES" item 1). It is
// the structural check of spec §4.3 pre-run item 1; the semantic checks
// (id uniqueness, tool-policy disjointness, reference integrity) run
// separately against the decoded Go struct in validate.go.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["goal", "tool_policy"],
  "properties": {
    "goal": {"type": "string", "minLength": 1},
    "success_criteria": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "description", "evidence"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "evidence": {"type": "string"}
        }
      }
    },
    "deliverables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind", "destination_pattern", "required"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"type": "string"},
          "destination_pattern": {"type": "string"},
          "required": {"type": "boolean"}
        }
      }
    },
    "constraints": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "description", "kind", "rule"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "kind": {"enum": ["tool_blocked", "path_blocked", "pattern_blocked", "custom"]},
          "rule": {"type": "object"}
        }
      }
    },
    "tool_policy": {
      "type": "object",
      "required": ["allowed", "blocked"],
      "properties": {
        "allowed": {"type": "array", "items": {"type": "string"}},
        "blocked": {"type": "array", "items": {"type": "string"}}
      }
    },
    "integration_scopes": {"type": "array", "items": {"type": "string"}},
    "approval_rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action_type", "timeout_seconds", "auto_action"],
        "properties": {
          "action_type": {"type": "string"},
          "condition": {"type": "string"},
          "timeout_seconds": {"type": "integer", "minimum": 1},
          "auto_action": {"enum": ["approve", "reject"]}
        }
      }
    },
    "max_duration_seconds": {"type": "integer", "minimum": 1},
    "max_cost_cents": {"type": "integer", "minimum": 0},
    "input_files": {"type": "array", "items": {"type": "string"}},
    "output_destinations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["deliverable_id", "path"],
        "properties": {
          "deliverable_id": {"type": "string"},
          "path": {"type": "string"}
        }
      }
    }
  }
}`

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaOnce sync.Once
	compiledSchemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
			compiledSchemaErr = fmt.Errorf("contract: unmarshal embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("contract.schema.json", doc); err != nil {
			compiledSchemaErr = fmt.Errorf("contract: add schema resource: %w", err)
			return
		}
		schema, err := c.Compile("contract.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("contract: compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})
	return compiledSchema, compiledSchemaErr
}

// ValidateDocument runs the embedded JSON Schema against a contract
// document's wire JSON representation (spec §4.3 pre-run item 1). It does
// not decode into a Contract struct; callers that need the decoded value
// unmarshal separately once structural validation passes.
func ValidateDocument(raw []byte) error {
	schema, err := compiled()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("contract: unmarshal document: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("contract: schema validation: %w", err)
	}
	return nil
}

package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSON Schemas for the persisted record contract. A record that parses as
// JSON but violates its schema is treated as corrupt and archived, never
// silently deleted.

const attemptSchema = `{
  "type": "object",
  "required": ["id", "timestamp", "attemptType", "targetName", "targetIdentifier", "outcome"],
  "properties": {
    "id": {"type": "string", "minLength": 36, "maxLength": 36},
    "timestamp": {"type": "string"},
    "attemptType": {"enum": ["app", "message", "call"]},
    "targetName": {"type": "string"},
    "targetIdentifier": {"type": "string"},
    "outcome": {"enum": ["blocked", "allowedAfterTest", "emergencyOverride"]}
  }
}`

const sessionProperties = `
    "id": {"type": "string", "minLength": 36, "maxLength": 36},
    "startTime": {"type": "string"},
    "scheduledEndTime": {"type": ["string", "null"]},
    "activationType": {"enum": ["manual", "scheduled", "location", "biometric", "financial"]},
    "blockedAttempts": {"type": "array", "items": {"$ref": "attempt.json"}}
`

var recordSchemas = map[string]string{
	KeyUserPolicy: `{
  "type": "object",
  "required": ["blockedAppIds", "blockedContactIds", "emergencyContactIds", "testDifficulty", "notifyOnBlock"],
  "properties": {
    "blockedAppIds": {"type": "array", "items": {"type": "string"}},
    "blockedContactIds": {"type": "array", "items": {"type": "string"}},
    "emergencyContactIds": {"type": "array", "items": {"type": "string"}},
    "defaultDurationSeconds": {"type": ["integer", "null"], "minimum": 1},
    "testDifficulty": {"enum": ["easy", "medium", "hard", "extreme"]},
    "notifyOnBlock": {"type": "boolean"},
    "allowManualStop": {"type": "boolean"}
  }
}`,

	KeyCurrentSession: `{
  "type": "object",
  "required": ["id", "startTime", "activationType", "blockedAttempts"],
  "properties": {` + sessionProperties + `}
}`,

	KeySessionHistory: `{
  "type": "array",
  "maxItems": 100,
  "items": {
    "type": "object",
    "required": ["id", "startTime", "activationType", "blockedAttempts", "actualEndTime", "endReason"],
    "properties": {` + sessionProperties + `,
      "actualEndTime": {"type": "string"},
      "endReason": {"enum": ["timerExpired", "sobrietyTestPassed", "emergencyOverride", "manualStop"]}
    }
  }
}`,

	KeySchedules: `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["weekdays", "startTime", "endTime", "enabled"],
    "properties": {
      "weekdays": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 6}},
      "startTime": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"},
      "endTime": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"},
      "enabled": {"type": "boolean"}
    }
  }
}`,
}

var (
	compiledOnce    sync.Once
	compiledSchemas map[string]*jsonschema.Schema
	compileErr      error
)

func compiled() (map[string]*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiledSchemas = make(map[string]*jsonschema.Schema, len(recordSchemas))
		for key, src := range recordSchemas {
			compiler := jsonschema.NewCompiler()
			if err := compiler.AddResource("attempt.json", strings.NewReader(attemptSchema)); err != nil {
				compileErr = fmt.Errorf("add attempt schema: %w", err)
				return
			}
			url := key + ".json"
			if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
				compileErr = fmt.Errorf("add schema for %q: %w", key, err)
				return
			}
			schema, err := compiler.Compile(url)
			if err != nil {
				compileErr = fmt.Errorf("compile schema for %q: %w", key, err)
				return
			}
			compiledSchemas[key] = schema
		}
	})
	return compiledSchemas, compileErr
}

// ValidateRecord checks a stored value against the schema for its key.
// Keys without a registered schema validate trivially. A failure is
// reported as ErrCorruptRecord.
func ValidateRecord(key string, value []byte) error {
	schemas, err := compiled()
	if err != nil {
		return err
	}
	schema, ok := schemas[key]
	if !ok {
		return nil
	}

	var instance any
	if err := json.Unmarshal(value, &instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	return nil
}

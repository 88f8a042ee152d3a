package config

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema constrains the document shape before typed decoding, so a
// malformed file fails fast with a positioned error instead of producing a
// half-built imposter. Predicate contents are deliberately left open here;
// operator shape is the predicate engine's dry-run concern.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["imposters"],
  "properties": {
    "imposters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["protocol"],
        "properties": {
          "protocol": {"type": "string", "enum": ["http"]},
          "port": {"type": "integer", "minimum": 0, "maximum": 65535},
          "name": {"type": "string"},
          "recordRequests": {"type": "boolean"},
          "defaultResponse": {"type": "object"},
          "stubs": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["responses"],
              "properties": {
                "predicates": {"type": "object"},
                "responses": {
                  "type": "array",
                  "minItems": 1,
                  "items": {
                    "type": "object",
                    "properties": {
                      "is": {"type": "object"},
                      "proxy": {
                        "type": "object",
                        "required": ["to"],
                        "properties": {
                          "to": {"type": "string"},
                          "mode": {"type": "string", "enum": ["proxyOnce", "proxyAlways"]},
                          "predicateGenerators": {"type": "array"}
                        }
                      },
                      "inject": {"type": "string"},
                      "_behaviors": {
                        "type": "object",
                        "properties": {
                          "wait": {"type": "integer", "minimum": 0}
                        }
                      }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("stubd-config.json", configSchema)

// ValidateSchema checks a decoded configuration document against the embedded
// schema. The value must use canonical JSON shapes (as produced by
// encoding/json into any).
func ValidateSchema(doc any) error {
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("config schema validation: %w", err)
	}
	return nil
}

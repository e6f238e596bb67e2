package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// snapshotSchema 是上游快照信封的 JSON Schema。payload 的必填字段
// 按来源种类通过 if/then 约束。
const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["source", "ts", "payload"],
  "properties": {
    "source": {
      "enum": ["market_state", "threat", "volatility", "correlation", "horizon", "health"]
    },
    "ts": {"type": "integer", "minimum": 0},
    "payload": {"type": "object"}
  },
  "allOf": [
    {
      "if": {"properties": {"source": {"const": "market_state"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["state"],
            "properties": {
              "state": {"enum": ["trending", "ranging", "choppy", "volatile", "unstable", "critical"]},
              "direction": {"type": "number", "minimum": -1, "maximum": 1},
              "confidence": {"type": "number", "minimum": 0, "maximum": 100}
            }
          }
        }
      }
    },
    {
      "if": {"properties": {"source": {"const": "threat"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["count", "classification"],
            "properties": {
              "count": {"type": "integer", "minimum": 0},
              "classification": {"enum": ["none", "low", "elevated", "critical", "systemic"]},
              "certainty": {"type": "number", "minimum": 0, "maximum": 100}
            }
          }
        }
      }
    },
    {
      "if": {"properties": {"source": {"const": "volatility"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["percentile", "regime"],
            "properties": {
              "percentile": {"type": "number", "minimum": 0, "maximum": 100},
              "regime": {"enum": ["calm", "normal", "elevated", "extreme"]}
            }
          }
        }
      }
    },
    {
      "if": {"properties": {"source": {"const": "correlation"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["average"],
            "properties": {
              "average": {"type": "number", "minimum": -1, "maximum": 1},
              "breadth": {"type": "integer", "minimum": 0}
            }
          }
        }
      }
    },
    {
      "if": {"properties": {"source": {"const": "horizon"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["probability", "direction"],
            "properties": {
              "probability": {"type": "number", "minimum": 0, "maximum": 1},
              "direction": {"type": "number", "minimum": -1, "maximum": 1},
              "scope": {"type": "number", "minimum": 0, "maximum": 100},
              "mode": {"enum": ["sequential", "parallel", "conditional", "fallback"]},
              "confidence": {"type": "number", "minimum": 0, "maximum": 100}
            }
          }
        }
      }
    },
    {
      "if": {"properties": {"source": {"const": "health"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["score"],
            "properties": {
              "score": {"type": "number", "minimum": 0, "maximum": 100},
              "headroom": {"type": "number", "minimum": 0, "maximum": 100},
              "capabilities": {
                "type": "object",
                "additionalProperties": {"type": "boolean"}
              },
              "root_cause": {
                "type": "object",
                "properties": {
                  "systemic": {"type": "boolean"},
                  "confidence": {"type": "number", "minimum": 0, "maximum": 100},
                  "detail": {"type": "string"}
                }
              }
            }
          }
        }
      }
    }
  ]
}`

var compiledSchema = jsonschema.MustCompileString("snapshot.json", snapshotSchema)

// ValidateEnvelope 校验一条入站快照信封；违规负载被拒收而非降级。
func ValidateEnvelope(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("snapshot envelope is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("snapshot envelope rejected: %w", err)
	}
	return nil
}

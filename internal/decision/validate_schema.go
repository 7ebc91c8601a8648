package decision

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const signalSchema = `{
  "type": "object",
  "required": ["action", "confidence"],
  "properties": {
    "action": {"enum": ["BUY", "SELL", "HOLD"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"},
    "entry_price": {"type": "number", "minimum": 0},
    "stop_loss": {"type": "number", "minimum": 0},
    "take_profit": {"type": "number", "minimum": 0},
    "position_size": {"type": "number", "minimum": 0, "maximum": 1},
    "risk_reward_ratio": {"type": "number", "minimum": 0},
    "key_indicators": {"type": "array", "items": {"type": "string"}},
    "market_condition": {"type": "string"},
    "risk_factors": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func signalValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("signal.json", strings.NewReader(signalSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("signal.json")
	})
	return schemaCompiled, schemaErr
}

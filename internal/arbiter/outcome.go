package arbiter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ashita-ai/kensa/internal/model"
)

// Outcome is the result of decoding a model answer: Valid or Invalid.
type Outcome interface {
	outcome()
}

// Valid carries a usable verdict decoded from the model.
type Valid struct {
	Verdict model.Verdict
}

// Invalid explains why a model answer was rejected.
type Invalid struct {
	Reason string
}

func (Valid) outcome()   {}
func (Invalid) outcome() {}

// Decoder turns raw model text (code fences already stripped) into an
// Outcome. Decoders must not panic on arbitrary input.
type Decoder func(text string) Outcome

// CompileSchema compiles a JSON Schema document held in memory.
func CompileSchema(name, schema string) (*jsonschema.Schema, error) {
	url := "mem://kensa/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("arbiter: add schema %s: %w", name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("arbiter: compile schema %s: %w", name, err)
	}
	return s, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name, schema string) *jsonschema.Schema {
	s, err := CompileSchema(name, schema)
	if err != nil {
		panic(err)
	}
	return s
}

// JSONDecoder validates the text against schema, decodes it into T and maps
// it to a verdict. Any failure along the way is Invalid.
func JSONDecoder[T any](schema *jsonschema.Schema, toVerdict func(T) (model.Verdict, error)) Decoder {
	return func(text string) Outcome {
		raw := []byte(strings.TrimSpace(text))
		if len(raw) == 0 {
			return Invalid{Reason: "empty response"}
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return Invalid{Reason: "not json: " + err.Error()}
		}
		if err := schema.Validate(generic); err != nil {
			return Invalid{Reason: "schema: " + err.Error()}
		}
		var v T
		dec := json.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&v); err != nil {
			return Invalid{Reason: "decode: " + err.Error()}
		}
		verdict, err := toVerdict(v)
		if err != nil {
			return Invalid{Reason: err.Error()}
		}
		verdict.Confidence = model.ClampConfidence(verdict.Confidence)
		return Valid{Verdict: verdict}
	}
}

// TextDecoder accepts any non-empty text as the verdict reason under action.
func TextDecoder(action string, confidence float64) Decoder {
	return func(text string) Outcome {
		text = strings.TrimSpace(text)
		if text == "" {
			return Invalid{Reason: "empty response"}
		}
		return Valid{Verdict: model.Verdict{Action: action, Confidence: confidence, Reason: text}}
	}
}

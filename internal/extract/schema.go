package extract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// questionSchemaJSON describes what a single entry of the "questions"
// array may look like. It is deliberately loose about scalar types
// (numbers as strings, nulls) because field extraction applies defaults;
// it rejects only shapes that cannot be coerced.
const questionSchemaJSON = `{
  "type": "object",
  "properties": {
    "questionNumber":     {"type": ["integer", "string", "null"]},
    "pageNumber":         {"type": ["integer", "string", "null"]},
    "questionText":       {"type": ["string", "number", "boolean", "null"]},
    "options": {
      "type": ["array", "null"],
      "items": {"type": ["string", "number", "boolean", "null"]}
    },
    "correctAnswerIndex": {"type": ["integer", "string", "null"]},
    "contains_latex":     {"type": ["boolean", "string", "null"]},
    "is_diagram":         {"type": ["boolean", "string", "null"]},
    "boundingBox": {
      "type": ["object", "null"],
      "properties": {
        "x":      {"type": ["integer", "string", "null"]},
        "y":      {"type": ["integer", "string", "null"]},
        "width":  {"type": ["integer", "string", "null"]},
        "height": {"type": ["integer", "string", "null"]}
      }
    }
  }
}`

var questionSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("question.json", strings.NewReader(questionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("load question schema: %w", err)
	}
	schema, err := compiler.Compile("question.json")
	if err != nil {
		return nil, fmt.Errorf("compile question schema: %w", err)
	}
	return schema, nil
})

package handler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const inputSchemaURL = "https://funcx.org/schemas/action-provider/input.schema.json"

// inputSchemaJSON POST /run 请求体的结构；形态之间的互斥等语义检查交给 normalize
const inputSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["body"],
  "properties": {
    "request_id": {"type": "string", "description": "ID of incoming request from flows"},
    "monitor_by": {"type": "array", "items": {"type": "string"}},
    "manage_by": {"type": "array", "items": {"type": "string"}},
    "body": {
      "type": "object",
      "description": "Body of request",
      "properties": {
        "tasks": {
          "description": "List of tasks to invoke, a single task, or the JSON encoding of either",
          "oneOf": [
            {"type": "array", "items": {"$ref": "#/$defs/task"}},
            {"$ref": "#/$defs/task"},
            {"type": "string"}
          ]
        },
        "endpoint": {"type": "string", "description": "UUID of endpoint where the function is to be run"},
        "function": {"type": "string", "description": "UUID of the function to be run"},
        "endpoint_2": {"type": "string"},
        "function_2": {"type": "string"},
        "kwargs": {"type": ["object", "string", "null"]},
        "kwargs_2": {"type": ["object", "string", "null"]}
      }
    }
  },
  "$defs": {
    "task": {
      "type": "object",
      "properties": {
        "endpoint": {"type": "string"},
        "function": {"type": "string"},
        "kwargs": {"type": ["object", "string", "null"], "description": "Keyword arguments to function"},
        "payload": {"type": ["object", "string", "null"], "description": "Alias of kwargs"}
      }
    }
  }
}`

// InputSchema 已编译的入参 schema 以及用于 introspection 的原始文档
type InputSchema struct {
	compiled *jsonschema.Schema
	doc      map[string]any
}

func NewInputSchema() (*InputSchema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(inputSchemaURL, strings.NewReader(inputSchemaJSON)); err != nil {
		return nil, fmt.Errorf("input schema load failed: %w", err)
	}
	compiled, err := c.Compile(inputSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("input schema compile failed: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(inputSchemaJSON), &doc); err != nil {
		return nil, err
	}
	return &InputSchema{compiled: compiled, doc: doc}, nil
}

// Validate v 必须是 encoding/json 解码得到的值
func (s *InputSchema) Validate(v any) error {
	return s.compiled.Validate(v)
}

func (s *InputSchema) Document() map[string]any {
	return s.doc
}

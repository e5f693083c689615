package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// descriptorSchema is the JSON schema stored descriptors must satisfy.
const descriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "entity", "methods"],
  "properties": {
    "type": {"type": "string", "enum": ["event", "request"]},
    "entity": {"type": "string", "minLength": 1, "pattern": "^[^\\s*>]+$"},
    "allowedOrigins": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "timeout": {"type": "integer", "minimum": 1},
    "maxSize": {"type": "integer", "minimum": 1, "maximum": 1073741824},
    "methods": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "pattern": "^[A-Za-z]+$"}
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(descriptorSchema))
	})
	return schema, schemaErr
}

// ParseDescriptor validates raw against the descriptor schema and decodes it.
// Any failure is classified invalid.
func ParseDescriptor(raw []byte) (*EndpointDescriptor, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, errors.WrapFatal(err, "Descriptor", "ParseDescriptor", "compile schema")
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "Descriptor", "ParseDescriptor",
			"read descriptor JSON: "+err.Error())
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Descriptor", "ParseDescriptor",
			"schema validation: "+strings.Join(problems, "; "))
	}

	var d EndpointDescriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, errors.WrapInvalid(err, "Descriptor", "ParseDescriptor", "decode descriptor")
	}
	return &d, nil
}

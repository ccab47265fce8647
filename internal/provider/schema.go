package provider

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// Schema is a named JSON Schema describing the answer a caller expects
type Schema struct {
	Name       string
	Definition *jsonschema.Schema
}

// SchemaFor reflects the JSON Schema of T
func SchemaFor[T any]() Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	name := reflect.TypeOf(v).Name()
	if name == "" {
		name = "response"
	}
	return Schema{
		Name:       strings.ToLower(name),
		Definition: reflector.Reflect(v),
	}
}

// JSON returns the schema document with meta keywords removed
func (s Schema) JSON() json.RawMessage {
	m := s.Map()
	data, _ := json.Marshal(m)
	return data
}

// Map returns the schema as generic JSON, the form most SDKs accept
func (s Schema) Map() map[string]any {
	m := map[string]any{}
	if s.Definition == nil {
		return m
	}
	data, err := json.Marshal(s.Definition)
	if err != nil {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

// Properties returns the top-level properties and required fields
func (s Schema) Properties() (map[string]any, []string) {
	m := s.Map()
	props, _ := m["properties"].(map[string]any)
	var required []string
	if list, ok := m["required"].([]any); ok {
		for _, r := range list {
			if name, ok := r.(string); ok {
				required = append(required, name)
			}
		}
	}
	return props, required
}

// promptWithSchema appends the schema for providers without native schema support
func promptWithSchema(prompt string, schema Schema) string {
	return prompt + "\n\nReturn ONLY valid JSON matching this JSON Schema:\n" + string(schema.JSON()) +
		"\n\nDo not include any text before or after the JSON. Use null for missing fields."
}

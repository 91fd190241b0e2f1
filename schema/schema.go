// Package schema provides the small, closed schema model used for deck input
// and output validation. Schema modules (JSON Schema or CUE files) are parsed
// once into this model at load time; every later consumer (merging,
// validation, tool definitions) works on the model instead of the source
// format.
package schema

import "sort"

// Kind discriminates the Schema variants.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindUnknown Kind = "unknown"
)

// Schema is one node of the tagged-variant model. Only the fields relevant to
// Kind are populated: Enum for KindEnum, Fields for KindObject and Items for
// KindArray.
type Schema struct {
	Kind        Kind     `json:"kind"`
	Optional    bool     `json:"optional,omitempty"`
	Default     any      `json:"default,omitempty"`
	HasDefault  bool     `json:"hasDefault,omitempty"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Fields      []Field  `json:"fields,omitempty"`
	Items       *Schema  `json:"items,omitempty"`
}

// Field is a named property of an object schema.
type Field struct {
	Name   string  `json:"name"`
	Schema *Schema `json:"schema"`
}

// String returns a string schema.
func String() *Schema { return &Schema{Kind: KindString} }

// Number returns a number schema.
func Number() *Schema { return &Schema{Kind: KindNumber} }

// Boolean returns a boolean schema.
func Boolean() *Schema { return &Schema{Kind: KindBoolean} }

// Unknown returns a schema accepting any value.
func Unknown() *Schema { return &Schema{Kind: KindUnknown} }

// Enum returns a string enum schema.
func Enum(values ...string) *Schema { return &Schema{Kind: KindEnum, Enum: values} }

// Array returns an array schema with the given item schema.
func Array(items *Schema) *Schema { return &Schema{Kind: KindArray, Items: items} }

// Object returns an object schema with the given fields.
func Object(fields ...Field) *Schema { return &Schema{Kind: KindObject, Fields: fields} }

// Prop is a shorthand for constructing a Field.
func Prop(name string, s *Schema) Field { return Field{Name: name, Schema: s} }

// OptionalOf marks s optional and returns it.
func OptionalOf(s *Schema) *Schema {
	s.Optional = true
	return s
}

// Field returns the named field schema of an object, or nil.
func (s *Schema) Field(name string) *Schema {
	if s == nil {
		return nil
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Schema
		}
	}
	return nil
}

// Required reports whether a value must be supplied for s.
func (s *Schema) Required() bool {
	return s != nil && !s.Optional && !s.HasDefault
}

// Clone returns a deep copy of s.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	c := *s
	if s.Enum != nil {
		c.Enum = append([]string(nil), s.Enum...)
	}
	if s.Fields != nil {
		c.Fields = make([]Field, len(s.Fields))
		for i, f := range s.Fields {
			c.Fields[i] = Field{Name: f.Name, Schema: f.Schema.Clone()}
		}
	}
	c.Items = s.Items.Clone()
	return &c
}

// JSONSchema renders s as a JSON Schema object suitable for tool parameter
// definitions.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	out := map[string]any{}
	switch s.Kind {
	case KindString, KindNumber, KindBoolean:
		out["type"] = string(s.Kind)
	case KindEnum:
		out["type"] = "string"
		enum := make([]any, len(s.Enum))
		for i, v := range s.Enum {
			enum[i] = v
		}
		out["enum"] = enum
	case KindArray:
		out["type"] = "array"
		if s.Items != nil {
			out["items"] = s.Items.JSONSchema()
		} else {
			out["items"] = map[string]any{}
		}
	case KindObject:
		out["type"] = "object"
		props := make(map[string]any, len(s.Fields))
		var required []any
		for _, f := range s.Fields {
			props[f.Name] = f.Schema.JSONSchema()
			if f.Schema.Required() {
				required = append(required, f.Name)
			}
		}
		out["properties"] = props
		if len(required) > 0 {
			out["required"] = required
		}
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.HasDefault {
		out["default"] = s.Default
	}
	return out
}

func sortFields(fields []Field) {
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
}

package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a value that does not satisfy a schema.
type ValidationError struct {
	Field   string `json:"field"`   // Dotted path of the offending value ("" for the root)
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Validate checks value against s and returns it with object defaults filled
// in. A nil schema accepts everything.
func (s *Schema) Validate(value any) (any, error) {
	if s == nil {
		return value, nil
	}
	return s.validate("", value)
}

func (s *Schema) validate(path string, value any) (any, error) {
	if value == nil {
		if s.HasDefault {
			return s.Default, nil
		}
		if s.Optional || s.Kind == KindUnknown {
			return nil, nil
		}
		return nil, &ValidationError{Field: path, Message: "required value is missing"}
	}

	switch s.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return nil, typeError(path, value, "string")
		}
	case KindNumber:
		if !isNumber(value) {
			return nil, typeError(path, value, "number")
		}
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			return nil, typeError(path, value, "boolean")
		}
	case KindEnum:
		str, ok := value.(string)
		if !ok || !slices.Contains(s.Enum, str) {
			return nil, &ValidationError{
				Field:   path,
				Value:   value,
				Message: fmt.Sprintf("expected one of [%s]", strings.Join(s.Enum, ", ")),
			}
		}
	case KindArray:
		items, ok := value.([]any)
		if !ok {
			return nil, typeError(path, value, "array")
		}
		if s.Items == nil {
			return value, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := s.Items.validate(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, typeError(path, value, "object")
		}
		out := make(map[string]any, len(obj))
		for k, v := range obj {
			out[k] = v // extra keys pass through
		}
		for _, f := range s.Fields {
			v, err := f.Schema.validate(joinPath(path, f.Name), obj[f.Name])
			if err != nil {
				return nil, err
			}
			if v != nil {
				out[f.Name] = v
			}
		}
		return out, nil
	}
	return value, nil
}

func typeError(path string, value any, want string) error {
	return &ValidationError{
		Field:   path,
		Value:   value,
		Message: fmt.Sprintf("expected type %s, got %T", want, value),
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	return false
}

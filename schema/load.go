package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for schema modules with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported schema module format")

// LoadFile reads a schema module and converts it into the schema model.
// Supported formats are JSON Schema (.json, .yaml, .yml) and CUE (.cue).
// A missing file yields an error matching fs.ErrNotExist.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode json schema %s: %w", path, err)
		}
		return FromJSONSchema(doc)
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml schema %s: %w", path, err)
		}
		return FromJSONSchema(doc)
	case ".cue":
		return FromCUE(data, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// FromJSONSchema converts a decoded JSON Schema document. Only the subset the
// runtime needs is interpreted: type (string or list with "null"), enum,
// properties, required, items, description and default.
func FromJSONSchema(doc map[string]any) (*Schema, error) {
	if doc == nil {
		return Unknown(), nil
	}
	s := &Schema{}
	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	if d, ok := doc["default"]; ok {
		s.Default, s.HasDefault = d, true
	}

	typ := ""
	switch t := doc["type"].(type) {
	case string:
		typ = t
	case []any:
		for _, v := range t {
			name, _ := v.(string)
			if name == "null" {
				s.Optional = true
				continue
			}
			typ = name
		}
	}

	if enum, ok := doc["enum"].([]any); ok {
		s.Kind = KindEnum
		for _, v := range enum {
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("enum value %v: only string enums are supported", v)
			}
			s.Enum = append(s.Enum, str)
		}
		return s, nil
	}

	if typ == "" {
		if _, ok := doc["properties"]; ok {
			typ = "object"
		}
	}

	switch typ {
	case "string":
		s.Kind = KindString
	case "number", "integer":
		s.Kind = KindNumber
	case "boolean":
		s.Kind = KindBoolean
	case "array":
		s.Kind = KindArray
		if items, ok := doc["items"].(map[string]any); ok {
			item, err := FromJSONSchema(items)
			if err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
			s.Items = item
		}
	case "object":
		s.Kind = KindObject
		required := map[string]bool{}
		if req, ok := doc["required"].([]any); ok {
			for _, r := range req {
				if name, ok := r.(string); ok {
					required[name] = true
				}
			}
		}
		props, _ := doc["properties"].(map[string]any)
		for name, raw := range props {
			propDoc, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q: expected object", name)
			}
			prop, err := FromJSONSchema(propDoc)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			if !required[name] {
				prop.Optional = true
			}
			s.Fields = append(s.Fields, Field{Name: name, Schema: prop})
		}
		sortFields(s.Fields)
	default:
		s.Kind = KindUnknown
	}
	return s, nil
}

// FromCUE compiles a CUE schema module. If the module declares a #Schema
// definition it is used as the root; otherwise the whole file is.
func FromCUE(data []byte, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile cue schema %s: %w", filename, err)
	}
	if def := v.LookupPath(cue.ParsePath("#Schema")); def.Exists() {
		v = def
	}
	return fromCUEValue(v)
}

func fromCUEValue(v cue.Value) (*Schema, error) {
	s := &Schema{}
	for _, cg := range v.Doc() {
		s.Description = strings.TrimSpace(cg.Text())
	}
	if d, ok := v.Default(); ok && d.IsConcrete() {
		var def any
		if err := d.Decode(&def); err == nil {
			s.Default, s.HasDefault = def, true
		}
	}

	if values, ok := cueStringEnum(v); ok {
		s.Kind = KindEnum
		s.Enum = values
		return s, nil
	}

	kind := v.IncompleteKind()
	if kind&cue.NullKind != 0 && kind != cue.NullKind {
		s.Optional = true
		kind &^= cue.NullKind
	}

	switch kind {
	case cue.StringKind:
		s.Kind = KindString
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		s.Kind = KindNumber
	case cue.BoolKind:
		s.Kind = KindBoolean
	case cue.ListKind:
		s.Kind = KindArray
		if elem := v.LookupPath(cue.MakePath(cue.AnyIndex)); elem.Exists() {
			item, err := fromCUEValue(elem)
			if err != nil {
				return nil, fmt.Errorf("list element: %w", err)
			}
			s.Items = item
		}
	case cue.StructKind:
		s.Kind = KindObject
		iter, err := v.Fields(cue.Optional(true))
		if err != nil {
			return nil, fmt.Errorf("iterate cue fields: %w", err)
		}
		for iter.Next() {
			field, err := fromCUEValue(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", iter.Label(), err)
			}
			if iter.IsOptional() {
				field.Optional = true
			}
			s.Fields = append(s.Fields, Field{Name: iter.Label(), Schema: field})
		}
	default:
		s.Kind = KindUnknown
	}
	return s, nil
}

// cueStringEnum recognizes disjunctions of concrete strings ("a" | "b").
func cueStringEnum(v cue.Value) ([]string, bool) {
	op, args := v.Expr()
	if op != cue.OrOp || len(args) == 0 {
		return nil, false
	}
	values := make([]string, 0, len(args))
	for _, a := range args {
		if a.Kind() != cue.StringKind {
			return nil, false
		}
		str, err := a.String()
		if err != nil {
			return nil, false
		}
		values = append(values, str)
	}
	return values, true
}

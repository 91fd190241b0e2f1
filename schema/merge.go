package schema

// Merge returns the structural union of a and b. A field present in either
// object is present in the result; a field present in both is merged
// recursively and stays required unless both sides mark it optional. For
// non-object nodes of differing kinds b wins. Neither input is modified.
func Merge(a, b *Schema) *Schema {
	switch {
	case a == nil:
		return b.Clone()
	case b == nil:
		return a.Clone()
	}
	if a.Kind != KindObject || b.Kind != KindObject {
		if a.Kind == KindUnknown {
			return b.Clone()
		}
		if a.Kind == KindArray && b.Kind == KindArray {
			out := b.Clone()
			out.Items = Merge(a.Items, b.Items)
			return out
		}
		return b.Clone()
	}

	out := a.Clone()
	out.Optional = a.Optional && b.Optional
	if b.Description != "" {
		out.Description = b.Description
	}
	if b.HasDefault {
		out.Default, out.HasDefault = b.Default, true
	}
	for _, f := range b.Fields {
		idx := -1
		for i, existing := range out.Fields {
			if existing.Name == f.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			out.Fields = append(out.Fields, Field{Name: f.Name, Schema: f.Schema.Clone()})
			continue
		}
		prev := out.Fields[idx].Schema
		merged := Merge(prev, f.Schema)
		merged.Optional = prev.Optional && f.Schema.Optional
		out.Fields[idx].Schema = merged
	}
	return out
}

// MergeAll folds Merge over schemas left to right, skipping nils.
func MergeAll(schemas ...*Schema) *Schema {
	var out *Schema
	for _, s := range schemas {
		if s == nil {
			continue
		}
		out = Merge(out, s)
	}
	return out
}

// Package merge implements the recursive document merge used for templates,
// lineage clones and result consolidation.
//
// Documents are the generic trees produced by encoding/json and yaml.v3:
// map[string]any for mappings, []any for sequences and scalars otherwise.
// All functions are pure: inputs are never modified and results never share
// mutable structure with them.
package merge

// Merge returns a new document with override merged over base.
// When both sides hold a mapping under the same key the mappings are merged
// recursively; in every other case (scalars, sequences, type mismatches) the
// override value replaces the base value wholesale. Either argument may be nil.
func Merge(base, override map[string]any) map[string]any {
	out := Copy(base)
	if out == nil {
		out = make(map[string]any, len(override))
	}
	for key, value := range override {
		sub, ok := value.(map[string]any)
		if !ok {
			out[key] = copyValue(value)
			continue
		}
		if existing, ok := out[key].(map[string]any); ok {
			// existing is already a private copy
			out[key] = Merge(existing, sub)
			continue
		}
		out[key] = Copy(sub)
	}
	return out
}

// Copy returns a deep copy of doc. A nil document yields nil.
func Copy(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Copy(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = Copy(item)
		}
		return out
	default:
		return v
	}
}

// Section returns doc[key] when it is a mapping.
func Section(doc map[string]any, key string) (map[string]any, bool) {
	if doc == nil {
		return nil, false
	}
	sub, ok := doc[key].(map[string]any)
	return sub, ok
}

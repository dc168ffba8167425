// Package schema cleans JSON-Schema tool parameter definitions for the two
// mandatory wire formats (spec §4.1.1/§4.1.2): Gemini's cleaner keeps only
// the fields Gemini's function-declaration schema understands, the
// OpenAI-style cleaner is more permissive. Both are idempotent:
// Clean(Clean(s)) == Clean(s).
package schema

// geminiKeep is the set of JSON-Schema keys Gemini's functionDeclarations
// schema accepts (spec §4.1.1): everything else (minimum, maximum, default,
// additionalProperties, pattern, format, ...) is stripped recursively.
var geminiKeep = map[string]bool{
	"type":        true,
	"description": true,
	"properties":  true,
	"required":    true,
	"items":       true,
	"enum":        true,
}

// openAIKeep is the OpenAI-style keep-list (spec §4.1.2): more permissive,
// additionally retaining minimum/maximum/minLength/maxLength/pattern/
// format/default.
var openAIKeep = map[string]bool{
	"type":        true,
	"description": true,
	"properties":  true,
	"required":    true,
	"items":       true,
	"enum":        true,
	"minimum":     true,
	"maximum":     true,
	"minLength":   true,
	"maxLength":   true,
	"pattern":     true,
	"format":      true,
	"default":     true,
}

// CleanForGemini recursively strips any key not in geminiKeep, returning a
// new tree (the input is not mutated).
func CleanForGemini(node any) any { return clean(node, geminiKeep) }

// CleanForOpenAI recursively strips any key not in openAIKeep, returning a
// new tree (the input is not mutated).
func CleanForOpenAI(node any) any { return clean(node, openAIKeep) }

func clean(node any, keep map[string]bool) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			if !keep[k] {
				continue
			}
			if props, ok := v.(map[string]any); ok && k == "properties" {
				// Property names are user-chosen, not schema keywords: keep
				// every name and clean each property's own schema.
				cp := make(map[string]any, len(props))
				for name, p := range props {
					cp[name] = clean(p, keep)
				}
				out[k] = cp
				continue
			}
			out[k] = clean(v, keep)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = clean(v, keep)
		}
		return out
	default:
		return node
	}
}

// NormalizeStrictSchemaNode recursively enforces strict JSON-schema object
// rules used by providers that support a `strict: true` tool-schema mode
// (e.g. OpenAI's strict function calling):
//   - object nodes are closed (additionalProperties: false)
//   - optional object properties are made nullable and added to `required`
//
// Grounded on the teacher's pkg/schema/strict.go, kept as the strict-mode
// sub-case referenced by SPEC_FULL.md §4.1 EXTENDED.
func NormalizeStrictSchemaNode(node any) any {
	switch n := node.(type) {
	case map[string]any:
		normalizeStrictObjectIfPresent(n)
		for _, k := range []string{"anyOf", "oneOf", "allOf"} {
			if raw, ok := n[k].([]any); ok {
				for i := range raw {
					raw[i] = NormalizeStrictSchemaNode(raw[i])
				}
				n[k] = raw
			}
		}
		if raw, ok := n["items"]; ok {
			n["items"] = NormalizeStrictSchemaNode(raw)
		}
		if raw, ok := n["prefixItems"].([]any); ok {
			for i := range raw {
				raw[i] = NormalizeStrictSchemaNode(raw[i])
			}
			n["prefixItems"] = raw
		}
		if raw, ok := n["properties"].(map[string]any); ok {
			for name, prop := range raw {
				raw[name] = NormalizeStrictSchemaNode(prop)
			}
			n["properties"] = raw
		}
		if raw, ok := n["additionalProperties"]; ok {
			n["additionalProperties"] = NormalizeStrictSchemaNode(raw)
		}
		return n
	case []any:
		for i := range n {
			n[i] = NormalizeStrictSchemaNode(n[i])
		}
		return n
	default:
		return node
	}
}

func normalizeStrictObjectIfPresent(schema map[string]any) {
	typ, _ := schema["type"].(string)
	if typ == "" && (schema["properties"] != nil || schema["required"] != nil) {
		schema["type"] = "object"
		typ = "object"
	}
	hasObjectType := typ == "object"
	if !hasObjectType {
		if tarr, ok := schema["type"].([]any); ok {
			for _, v := range tarr {
				if s, ok := v.(string); ok && s == "object" {
					hasObjectType = true
					break
				}
			}
		}
	}
	if !hasObjectType {
		return
	}

	if ap, ok := schema["additionalProperties"]; !ok || ap != false {
		schema["additionalProperties"] = false
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return
	}

	requiredSet := map[string]bool{}
	required := []any{}
	if raw, ok := schema["required"].([]any); ok {
		for _, v := range raw {
			s, ok := v.(string)
			if !ok || s == "" || requiredSet[s] {
				continue
			}
			requiredSet[s] = true
			required = append(required, s)
		}
	}

	for name, prop := range props {
		if requiredSet[name] {
			continue
		}
		props[name] = makeSchemaNullable(prop)
		requiredSet[name] = true
		required = append(required, name)
	}

	schema["properties"] = props
	schema["required"] = required
}

func makeSchemaNullable(prop any) any {
	m, ok := prop.(map[string]any)
	if !ok {
		return map[string]any{
			"anyOf": []any{prop, map[string]any{"type": "null"}},
		}
	}

	if rawType, ok := m["type"]; ok {
		switch t := rawType.(type) {
		case string:
			if t != "null" {
				m["type"] = []any{t, "null"}
			}
			return m
		case []any:
			for _, v := range t {
				if s, ok := v.(string); ok && s == "null" {
					return m
				}
			}
			m["type"] = append(t, "null")
			return m
		}
	}

	if rawAnyOf, ok := m["anyOf"].([]any); ok {
		for _, v := range rawAnyOf {
			if mm, ok := v.(map[string]any); ok {
				if s, _ := mm["type"].(string); s == "null" {
					return m
				}
			}
		}
		m["anyOf"] = append(rawAnyOf, map[string]any{"type": "null"})
		return m
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return map[string]any{
		"anyOf": []any{out, map[string]any{"type": "null"}},
	}
}

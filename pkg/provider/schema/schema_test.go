package schema

import "testing"

func TestCleanForGeminiStripsDisallowedKeys(t *testing.T) {
	in := map[string]any{
		"type":                 "object",
		"description":          "a thing",
		"minimum":              1,
		"maximum":              10,
		"default":              5,
		"additionalProperties": false,
		"pattern":              "^a$",
		"format":               "int32",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []any{"x"},
	}
	out := CleanForGemini(in).(map[string]any)
	for _, k := range []string{"minimum", "maximum", "default", "additionalProperties", "pattern", "format"} {
		if _, ok := out[k]; ok {
			t.Fatalf("expected %q to be stripped, got %v", k, out[k])
		}
	}
	props := out["properties"].(map[string]any)
	x := props["x"].(map[string]any)
	if _, ok := x["minimum"]; ok {
		t.Fatalf("expected nested minimum to be stripped")
	}
}

func TestCleanForGeminiIdempotent(t *testing.T) {
	in := map[string]any{"type": "string", "minimum": 1, "description": "d"}
	once := CleanForGemini(in)
	twice := CleanForGemini(once)
	o1 := once.(map[string]any)
	o2 := twice.(map[string]any)
	if len(o1) != len(o2) || o1["type"] != o2["type"] || o1["description"] != o2["description"] {
		t.Fatalf("clean is not idempotent: %v vs %v", o1, o2)
	}
	if _, ok := o2["minimum"]; ok {
		t.Fatalf("minimum should remain stripped after second pass")
	}
}

func TestCleanForOpenAIKeepsPermissiveKeys(t *testing.T) {
	in := map[string]any{
		"type":    "integer",
		"minimum": 1,
		"maximum": 10,
		"default": 5,
		"pattern": "^a$",
	}
	out := CleanForOpenAI(in).(map[string]any)
	for _, k := range []string{"minimum", "maximum", "default", "pattern"} {
		if _, ok := out[k]; !ok {
			t.Fatalf("expected %q to be kept for OpenAI-style schema", k)
		}
	}
}

func TestNormalizeStrictSchemaNodeClosesObjectsAndRequiresAll(t *testing.T) {
	in := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{"type": "integer"},
		},
		"required": []any{"a"},
	}
	out := NormalizeStrictSchemaNode(in).(map[string]any)
	if out["additionalProperties"] != false {
		t.Fatalf("expected additionalProperties=false, got %v", out["additionalProperties"])
	}
	required := out["required"].([]any)
	if len(required) != 2 {
		t.Fatalf("expected both properties required, got %v", required)
	}
	props := out["properties"].(map[string]any)
	b := props["b"].(map[string]any)
	bType := b["type"].([]any)
	if len(bType) != 2 || bType[1] != "null" {
		t.Fatalf("expected optional property b made nullable, got %v", bType)
	}
}

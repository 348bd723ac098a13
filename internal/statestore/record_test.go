package statestore_test

import (
	"testing"

	"paperflow/internal/statestore"
)

type sample struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

func TestAccessorsReturnDefaults(t *testing.T) {
	rec := statestore.FromMap(statestore.M{
		"state":    "running",
		"progress": 42,
		"flag":     "yes",
		"nested":   map[string]any{"id": "abc"},
		"items":    []any{"x", 1, "y"},
	})

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"string present", rec.String("state", "none"), "running"},
		{"string missing", rec.String("missing", "none"), "none"},
		{"string wrong kind", rec.String("progress", "none"), "none"},
		{"int present", rec.Int("progress", -1), 42},
		{"int wrong kind", rec.Int("state", -1), -1},
		{"bool wrong kind", rec.Bool("flag", true), true},
		{"text of number", rec.Text("progress", ""), "42"},
		{"nested", rec.Object("nested").String("id", ""), "abc"},
		{"missing object", len(rec.Object("missing")), 0},
		{"array len", len(rec.Array("items")), 3},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.name, tt.got, tt.want)
		}
	}

	strs := rec.Strings("items")
	if len(strs) != 2 || strs[0] != "x" || strs[1] != "y" {
		t.Fatalf("unexpected strings %v", strs)
	}
}

func TestValueOfStructsAndMerge(t *testing.T) {
	v := statestore.ValueOf([]sample{{URL: "http://x/1.png", Content: "c"}})
	arr, ok := v.(statestore.Array)
	if !ok || len(arr) != 1 {
		t.Fatalf("expected array of one, got %#v", v)
	}
	obj, ok := arr[0].(statestore.Object)
	if !ok || obj.String("url", "") != "http://x/1.png" {
		t.Fatalf("unexpected element %#v", arr[0])
	}

	base := statestore.FromMap(statestore.M{"a": 1, "b": map[string]any{"x": 1}})
	merged := base.Merge(statestore.FromMap(statestore.M{"b": map[string]any{"y": 2}}))
	if merged.Int("a", 0) != 1 {
		t.Fatal("merge dropped untouched key")
	}
	if merged.Object("b").Has("x") {
		t.Fatal("merge should replace nested objects")
	}
	if base.Object("b").Has("y") {
		t.Fatal("merge mutated the receiver")
	}
}

func TestParseValueAndText(t *testing.T) {
	v, err := statestore.ParseValue([]byte(`{"n": 12345678901, "f": 1.25, "s": "x"}`))
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}
	obj := v.(statestore.Object)
	if got := obj.Text("n", ""); got != "12345678901" {
		t.Fatalf("unexpected integer text %q", got)
	}
	if got := obj.Text("f", ""); got != "1.25" {
		t.Fatalf("unexpected float text %q", got)
	}
	plain := obj.Map()
	if plain["s"] != "x" {
		t.Fatalf("unexpected map conversion %v", plain)
	}
}

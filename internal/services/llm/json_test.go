package llm

import "testing"

func TestExtractObject(t *testing.T) {
	direct := ExtractObject(`{"标题":"A"}`)
	if direct["标题"] != "A" {
		t.Fatalf("unexpected direct parse: %v", direct)
	}

	wrapped := ExtractObject("Here you go:\n```json\n{\"a\": 1}\n```\nthanks")
	if wrapped["a"] != float64(1) {
		t.Fatalf("unexpected sliced parse: %v", wrapped)
	}

	raw := ExtractObject("no json here")
	if raw["raw"] != "no json here" || len(raw) != 1 {
		t.Fatalf("expected raw fallback, got %v", raw)
	}

	broken := ExtractObject("{not json}")
	if broken["raw"] != "{not json}" {
		t.Fatalf("expected raw fallback for invalid object, got %v", broken)
	}
}

func TestDecodeLLMJSONStripsFence(t *testing.T) {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON("```json\n{\"ok\":true}\n```", &out); err != nil {
		t.Fatalf("DecodeLLMJSON: %v", err)
	}
	if !out.OK {
		t.Fatal("expected ok")
	}
	if err := DecodeLLMJSON("   ", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

package appspec

import (
	"strings"
	"testing"
)

func TestParseValidatesBlockIdentity(t *testing.T) {
	blocks, err := Parse(`[{"type":"input","name":"INPUT","spec":{}},{"type":"llm","name":"MODEL","spec":{"temperature":0.7}}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[1].Spec["temperature"] != 0.7 {
		t.Fatalf("spec fields should survive parsing: %+v", blocks[1].Spec)
	}

	if _, err := Parse(`[{"type":"","name":"X"}]`); err == nil {
		t.Fatal("blocks without a type should be rejected")
	}
	if _, err := Parse(`[{"type":"llm","name":""}]`); err == nil {
		t.Fatal("blocks without a name should be rejected")
	}
	if _, err := Parse(`{"type":"llm"}`); err == nil {
		t.Fatal("non-array specifications should be rejected")
	}
}

func TestInputBlockCount(t *testing.T) {
	blocks, err := Parse(`[{"type":"input","name":"A"},{"type":"llm","name":"B"},{"type":"input","name":"C"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := InputBlockCount(blocks); got != 2 {
		t.Fatalf("InputBlockCount = %d, want 2", got)
	}
}

func TestDumpPinsDatasetHeadHash(t *testing.T) {
	blocks, err := Parse(`[{"type":"input","name":"INPUT","spec":{}},{"type":"data","name":"EXAMPLES","spec":{"dataset":"train"}}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	text, err := Dump(blocks, map[string]string{"train": "deadbeef"})
	if err != nil {
		t.Fatalf("dump: %v", err)
	}

	want := "input INPUT {\n}\n\ndata EXAMPLES {\n  dataset_id: train\n  hash: deadbeef\n}\n"
	if text != want {
		t.Fatalf("dump mismatch:\n got %q\nwant %q", text, want)
	}
}

func TestDumpUnknownDatasetFails(t *testing.T) {
	blocks, err := Parse(`[{"type":"data","name":"EXAMPLES","spec":{"dataset":"missing"}}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Dump(blocks, map[string]string{}); err == nil {
		t.Fatal("dump should fail for datasets the engine does not know")
	}
}

func TestDumpIsDeterministic(t *testing.T) {
	blocks, err := Parse(`[{"type":"llm","name":"MODEL","spec":{"temperature":0.7,"max_tokens":1024,"provider_id":"openai","model_id":"gpt-4"}}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	first, err := Dump(blocks, nil)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	for i := 0; i < 8; i++ {
		again, err := Dump(blocks, nil)
		if err != nil {
			t.Fatalf("dump: %v", err)
		}
		if again != first {
			t.Fatalf("dump is not deterministic:\n%q\n%q", first, again)
		}
	}
	if !strings.Contains(first, "  max_tokens: 1024\n") {
		t.Fatalf("integral numbers should render without a decimal point:\n%s", first)
	}
	if !strings.Contains(first, "  temperature: 0.7\n") {
		t.Fatalf("fractional numbers should keep their decimals:\n%s", first)
	}
}

func TestDumpFencesMultilineValues(t *testing.T) {
	blocks, err := Parse(`[{"type":"llm","name":"MODEL","spec":{"stop":["STOP","END"]}}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	text, err := Dump(blocks, nil)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	want := "llm MODEL {\n  stop:\n```\nSTOP\nEND\n```\n}\n"
	if text != want {
		t.Fatalf("dump mismatch:\n got %q\nwant %q", text, want)
	}
}

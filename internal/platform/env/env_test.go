package env

import (
	"testing"
	"time"
)

func TestStringDefault(t *testing.T) {
	if got := String("LOOM_ENV_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}
	t.Setenv("LOOM_ENV_TEST_SET", "value")
	if got := String("LOOM_ENV_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("got %q, want value", got)
	}
}

func TestIntParse(t *testing.T) {
	t.Setenv("LOOM_ENV_TEST_INT", "42")
	got, err := Int("LOOM_ENV_TEST_INT", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}

	t.Setenv("LOOM_ENV_TEST_INT", "not-a-number")
	if _, err := Int("LOOM_ENV_TEST_INT", 7); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFloat64Parse(t *testing.T) {
	got, err := Float64("LOOM_ENV_TEST_FLOAT_MISSING", 1.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1.5 {
		t.Fatalf("got %v, want 1.5", got)
	}

	t.Setenv("LOOM_ENV_TEST_FLOAT", "0.25")
	got, err = Float64("LOOM_ENV_TEST_FLOAT", 1.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.25 {
		t.Fatalf("got %v, want 0.25", got)
	}

	t.Setenv("LOOM_ENV_TEST_FLOAT", "fast")
	if _, err := Float64("LOOM_ENV_TEST_FLOAT", 1.5); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDurationParse(t *testing.T) {
	got, err := Duration("LOOM_ENV_TEST_DURATION_MISSING", 3*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 3*time.Second {
		t.Fatalf("got %v, want 3s", got)
	}

	t.Setenv("LOOM_ENV_TEST_DURATION", "250ms")
	got, err = Duration("LOOM_ENV_TEST_DURATION", 3*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 250*time.Millisecond {
		t.Fatalf("got %v, want 250ms", got)
	}
}

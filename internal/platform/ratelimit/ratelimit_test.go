package ratelimit

import "testing"

func TestAllowPerKey(t *testing.T) {
	l := New(1, 2)

	if !l.Allow("alice") {
		t.Fatalf("first call should pass")
	}
	if !l.Allow("alice") {
		t.Fatalf("burst should allow a second call")
	}
	if l.Allow("alice") {
		t.Fatalf("third immediate call should be limited")
	}
	if !l.Allow("bob") {
		t.Fatalf("keys must not share buckets")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	if !l.Allow("anyone") {
		t.Fatalf("nil limiter should allow")
	}
}

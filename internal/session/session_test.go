package session

import "testing"

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewID()
		if id == "" {
			t.Fatal("empty session id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestFallbackIDEntropy(t *testing.T) {
	a := fallbackID()
	b := fallbackID()
	if len(a) < 20 {
		t.Fatalf("fallback id too short: %q (%d chars)", a, len(a))
	}
	if a == b {
		t.Fatalf("fallback ids collided: %q", a)
	}
}

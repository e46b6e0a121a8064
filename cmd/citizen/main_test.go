package main

import (
	"testing"

	"github.com/jawaracloud/akim-queue/internal/queue"
)

var (
	_ queue.Navigator  = consoleNavigator{}
	_ queue.LeaveGuard = consoleGuard{}
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare national number", "77011234567", "77011234567", false},
		{"plus and separators stripped", "+7 (701) 123-45-67", "77011234567", false},
		{"country code added", "0111234567", "70111234567", false},
		{"ten digits starting with seven rejected", "7011234567", "", true},
		{"too short", "701123", "", true},
		{"too long", "770112345678", "", true},
		{"empty", "", "", true},
		{"no digits", "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizePhone(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("normalizePhone(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizePhone(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("normalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

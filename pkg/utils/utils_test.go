package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if a == b {
		t.Fatalf("expected distinct IDs, got %s twice", a)
	}
	if !ValidSessionID(a) {
		t.Errorf("generated ID %q rejected", a)
	}
}

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"lab-1", true},
		{"run_2024.10", true},
		{"", false},
		{"-leading", false},
		{"has space", false},
		{"../etc", false},
		{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
	}
	for _, tt := range tests {
		if got := ValidSessionID(tt.id); got != tt.want {
			t.Errorf("ValidSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestEnsureParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.png")
	if err := EnsureParentDir(path); err != nil {
		t.Fatalf("EnsureParentDir: %v", err)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("parent dir missing: %v", err)
	}
	if err := EnsureParentDir("plain.png"); err != nil {
		t.Errorf("EnsureParentDir on bare name: %v", err)
	}
}

package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("default")
	want := filepath.Join(home, ".courier", "profiles", "default")
	if got != want {
		t.Errorf("Dir(default) = %q, want %q", got, want)
	}
}

func TestDBPath(t *testing.T) {
	got := DBPath("work")
	if !strings.HasSuffix(got, filepath.Join("profiles", "work", "courier.db")) {
		t.Errorf("DBPath(work) = %q, want suffix profiles/work/courier.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("work")
	if !strings.HasSuffix(got, filepath.Join("profiles", "work", "LOCK")) {
		t.Errorf("LockPath(work) = %q, want suffix profiles/work/LOCK", got)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("work")
	if !strings.HasSuffix(got, filepath.Join("work", "logs", "courierd.log")) {
		t.Errorf("LogPath(work) = %q", got)
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("cli-override"); got != "cli-override" {
		t.Errorf("Resolve with flag = %q, want cli-override", got)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "default", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-profile", false},
		{"valid with underscore", "my_profile", false},
		{"valid single char", "a", false},
		{"empty", "", true},
		{"uppercase", "Default", true},
		{"space", "my profile", true},
		{"dot", "my.profile", true},
		{"too long", strings.Repeat("a", 65), true},
		{"special chars", "my@profile", true},
		{"slash", "my/profile", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

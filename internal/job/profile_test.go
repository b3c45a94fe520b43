package job

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing profile file: %v", err)
	}
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
version: 2
skills:
  - Go
  - Python
preferences:
  - remote
constraints:
  - no relocation
`)

	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if profile.Version != 2 {
		t.Fatalf("expected version 2, got %d", profile.Version)
	}
	if len(profile.Skills) != 2 {
		t.Fatalf("expected 2 skills, got %d", len(profile.Skills))
	}
}

func TestLoadProfileRejectsMissingVersion(t *testing.T) {
	path := writeProfile(t, "skills:\n  - Go\n")

	if _, err := LoadProfile(path); err == nil {
		t.Fatalf("expected an error for a profile without a version")
	}
}

func TestLoadProfileRejectsEmptySkills(t *testing.T) {
	path := writeProfile(t, "version: 1\n")

	if _, err := LoadProfile(path); err == nil {
		t.Fatalf("expected an error for a profile without skills")
	}
}

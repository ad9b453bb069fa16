package registry

import (
	"os"
	"path/filepath"
	"testing"
)

const reviewYAML = `name: document-review
version: "1.0.0"
phases:
  - name: intake
    display_name: Intake
  - name: approval
    display_name: Approval
    dependencies: [intake]
    requires_user_input: true
    timeout_seconds: 3600
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "review.yaml", reviewYAML)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Name != "document-review" || cfg.Version != "1.0.0" {
		t.Errorf("got %s/%s, want document-review/1.0.0", cfg.Name, cfg.Version)
	}
	if len(cfg.Phases) != 2 {
		t.Fatalf("got %d phases, want 2", len(cfg.Phases))
	}

	approval := cfg.Phase("approval")
	if approval == nil {
		t.Fatal("approval phase missing")
	}
	if !approval.RequiresUserInput {
		t.Error("requires_user_input should be set")
	}
	if approval.TimeoutSeconds != 3600 {
		t.Errorf("timeout_seconds = %d, want 3600", approval.TimeoutSeconds)
	}
	if len(approval.Dependencies) != 1 || approval.Dependencies[0] != "intake" {
		t.Errorf("dependencies = %v, want [intake]", approval.Dependencies)
	}
}

func TestLoadFileBadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "phases: [not: {valid")
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestRegisterDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "review.yaml", reviewYAML)
	writeFile(t, dir, "notes.txt", "not a flow type")
	writeFile(t, dir, "second.yml", `name: onboarding
version: "0.1.0"
phases:
  - name: collect
    display_name: Collect
`)

	r := New()
	n, err := RegisterDir(r, dir)
	if err != nil {
		t.Fatalf("RegisterDir: %v", err)
	}
	if n != 2 {
		t.Errorf("registered %d configs, want 2", n)
	}
	if _, err := r.GetConfig("document-review"); err != nil {
		t.Errorf("document-review missing: %v", err)
	}
	if _, err := r.GetConfig("onboarding"); err != nil {
		t.Errorf("onboarding missing: %v", err)
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing dir")
	}
}

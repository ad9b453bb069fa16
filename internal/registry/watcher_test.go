package registry

import (
	"testing"
	"time"
)

func waitForConfig(t *testing.T, r *Registry, name, version string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cfg, err := r.GetConfig(name); err == nil && cfg.Version == version {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("flow type %s version %s never appeared", name, version)
}

func TestWatcherRegistersNewFile(t *testing.T) {
	dir := t.TempDir()
	r := New()

	w, err := NewWatcher(r, dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	writeFile(t, dir, "review.yaml", reviewYAML)
	waitForConfig(t, r, "document-review", "1.0.0")
}

func TestWatcherReloadsNewVersion(t *testing.T) {
	dir := t.TempDir()
	r := New()
	writeFile(t, dir, "review.yaml", reviewYAML)
	if _, err := RegisterDir(r, dir); err != nil {
		t.Fatalf("RegisterDir: %v", err)
	}

	w, err := NewWatcher(r, dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	updated := `name: document-review
version: "1.1.0"
phases:
  - name: intake
    display_name: Intake
`
	writeFile(t, dir, "review.yaml", updated)
	waitForConfig(t, r, "document-review", "1.1.0")
}

func TestWatcherIgnoresNonYAML(t *testing.T) {
	dir := t.TempDir()
	r := New()

	w, err := NewWatcher(r, dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	writeFile(t, dir, "notes.txt", "not a flow type")

	time.Sleep(100 * time.Millisecond)
	if len(r.ListFlowTypes()) != 0 {
		t.Error("non-YAML files must not register flow types")
	}
}

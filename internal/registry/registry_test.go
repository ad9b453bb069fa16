package registry

import (
	"errors"
	"strings"
	"testing"

	"github.com/flowline/flowline/pkg/models"
)

func reviewConfig(version string) *models.FlowTypeConfig {
	return &models.FlowTypeConfig{
		Name:    "document-review",
		Version: version,
		Phases: []models.PhaseConfig{
			{Name: "intake", DisplayName: "Intake"},
			{Name: "analysis", DisplayName: "Analysis", Dependencies: []string{"intake"}},
			{Name: "approval", DisplayName: "Approval", Dependencies: []string{"analysis"}, RequiresUserInput: true},
		},
	}
}

func TestRegisterAndGetConfig(t *testing.T) {
	r := New()
	if err := r.Register(reviewConfig("1.0.0")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cfg, err := r.GetConfig("document-review")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if len(cfg.Phases) != 3 {
		t.Errorf("got %d phases, want 3", len(cfg.Phases))
	}
}

func TestGetConfigUnknown(t *testing.T) {
	r := New()
	if _, err := r.GetConfig("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetConfig(nope) = %v, want ErrNotFound", err)
	}
}

func TestRegisterSameVersionIsNoOp(t *testing.T) {
	r := New()
	first := reviewConfig("1.0.0")
	if err := r.Register(first); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(reviewConfig("1.0.0")); err != nil {
		t.Fatalf("re-Register same version: %v", err)
	}

	cfg, _ := r.GetConfig("document-review")
	if cfg != first {
		t.Error("same-version re-registration should keep the original config")
	}
}

func TestRegisterNewVersionReplaces(t *testing.T) {
	r := New()
	if err := r.Register(reviewConfig("1.0.0")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(reviewConfig("2.0.0")); err != nil {
		t.Fatalf("Register v2: %v", err)
	}

	cfg, _ := r.GetConfig("document-review")
	if cfg.Version != "2.0.0" {
		t.Errorf("version = %s, want 2.0.0", cfg.Version)
	}
}

func TestValidationCollectsAllViolations(t *testing.T) {
	r := New()
	err := r.Register(&models.FlowTypeConfig{
		Name: "broken",
		Phases: []models.PhaseConfig{
			{Name: "a", DisplayName: "A"},
			{Name: "a", DisplayName: "A again"},
			{Name: "", DisplayName: "No name"},
			{Name: "b", Dependencies: []string{"ghost"}},
		},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}

	// One pass must report every problem: the duplicate, the empty name, the
	// missing display name, and the unknown dependency.
	if len(verr.Violations) < 4 {
		t.Errorf("got %d violations, want at least 4: %v", len(verr.Violations), verr.Violations)
	}
	msg := verr.Error()
	for _, want := range []string{"duplicate", "empty name", "display name", "ghost"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %q", msg, want)
		}
	}
}

func TestValidationEmptyConfig(t *testing.T) {
	r := New()
	err := r.Register(&models.FlowTypeConfig{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if len(verr.Violations) != 2 {
		t.Errorf("got violations %v, want empty-name and no-phases", verr.Violations)
	}
}

func TestPhaseLookups(t *testing.T) {
	r := New()
	if err := r.Register(reviewConfig("1.0.0")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if !r.IsPhaseValid("document-review", "analysis") {
		t.Error("analysis should be valid")
	}
	if r.IsPhaseValid("document-review", "ghost") {
		t.Error("ghost should not be valid")
	}
	if r.IsPhaseValid("unknown-type", "intake") {
		t.Error("unknown flow type should report invalid")
	}

	next, ok := r.GetNextPhase("document-review", "intake")
	if !ok || next != "analysis" {
		t.Errorf("GetNextPhase(intake) = %q, %v, want analysis, true", next, ok)
	}
	if _, ok := r.GetNextPhase("document-review", "approval"); ok {
		t.Error("last phase should have no next")
	}

	if idx := r.GetPhaseIndex("document-review", "approval"); idx != 2 {
		t.Errorf("GetPhaseIndex(approval) = %d, want 2", idx)
	}
	if idx := r.GetPhaseIndex("unknown-type", "x"); idx != -1 {
		t.Errorf("GetPhaseIndex on unknown type = %d, want -1", idx)
	}
}

func TestUnregisterAndClear(t *testing.T) {
	r := New()
	if err := r.Register(reviewConfig("1.0.0")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.Unregister("document-review")
	if _, err := r.GetConfig("document-review"); !errors.Is(err, ErrNotFound) {
		t.Error("unregistered type should be gone")
	}

	r.Register(reviewConfig("1.0.0"))
	r.Clear()
	if len(r.ListFlowTypes()) != 0 {
		t.Error("Clear should remove everything")
	}
}

package llm

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/flowline/flowline/pkg/models"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestNewClientWithKey(t *testing.T) {
	c, err := NewClient(ClientConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Model() == "" {
		t.Error("a default model should be set")
	}
	if c.Tracker() == nil {
		t.Error("tracker should be initialized")
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	got := translateModelForBedrock("claude-sonnet-4-20250514")
	want := anthropic.Model("us.anthropic.claude-sonnet-4-20250514-v1:0")
	if got != want {
		t.Errorf("translate = %q, want %q", got, want)
	}

	// Already-translated names pass through.
	if got := translateModelForBedrock(want); got != want {
		t.Errorf("translate(%q) = %q, want unchanged", want, got)
	}
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(100, 50)
	tr.Add(30, 20)

	in, out := tr.Total()
	if in != 130 || out != 70 {
		t.Errorf("Total = %d/%d, want 130/70", in, out)
	}
	if tr.Calls() != 2 {
		t.Errorf("Calls = %d, want 2", tr.Calls())
	}
}

func TestAgentMemoryIsPerInstance(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	f := NewFactory(client)

	a1, err := f.NewAgent(models.TenantKey{ClientID: "acme", EngagementID: "e1"}, "analyst")
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	a2, err := f.NewAgent(models.TenantKey{ClientID: "acme", EngagementID: "e2"}, "analyst")
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}

	agent1 := a1.(*Agent)
	agent2 := a2.(*Agent)

	agent1.Remember("prefers concise summaries")
	if len(agent1.Recall()) != 1 {
		t.Error("agent1 should hold its note")
	}
	if len(agent2.Recall()) != 0 {
		t.Error("notes must not leak across agents")
	}
	if agent1.Tenant().EngagementID != "e1" {
		t.Errorf("tenant = %s", agent1.Tenant())
	}
}

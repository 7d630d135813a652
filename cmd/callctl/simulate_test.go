package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ashureev/callagent/internal/agentdef"
)

func TestSimulate(t *testing.T) {
	agents, err := agentdef.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	in := strings.NewReader(strings.Join([]string{
		"Hello",
		"Jane Doe",
		"!sorry, one moment",
		"jane@example.com",
		"555-123-4567",
		"Gutter cleaning",
		"This week",
		"Under 500",
		"yes",
		"sure",
		"this line is never read",
	}, "\n"))
	var out bytes.Buffer

	if err := simulate(context.Background(), agents, agentdef.DefaultAgentID, 7, in, &out); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"[collecting]",
		"[confirming] Let me make sure I have everything right.",
		"[booking]",
		"[complete] Wonderful!",
		"email = jane@example.com",
		"name = Jane Doe",
		"interruptions: 1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "error:") {
		t.Errorf("Unexpected error in output:\n%s", got)
	}
}

func TestSimulateUnknownAgent(t *testing.T) {
	agents, _ := agentdef.Load("")
	err := simulate(context.Background(), agents, "nobody", 1, strings.NewReader(""), &bytes.Buffer{})
	if err == nil {
		t.Fatal("Expected error for unknown agent")
	}
}

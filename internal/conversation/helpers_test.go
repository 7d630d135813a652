package conversation

import (
	"time"

	"github.com/ashureev/callagent/internal/domain"
)

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func salesAgent() *domain.AgentDefinition {
	return &domain.AgentDefinition{
		ID:   "sales",
		Name: "Ava",
		Fields: []domain.FieldDefinition{
			{ID: "name", Label: "Name", Required: true},
			{ID: "email", Label: "Email", Required: true},
			{ID: "phone", Label: "Phone", Required: true},
		},
		Questions: []domain.Question{
			{ID: "service", Question: "What service are you interested in?", Required: true},
			{ID: "timeline", Question: "When are you hoping to get started?", Required: true},
			{ID: "budget", Question: "Do you have a budget in mind?", Required: true},
		},
	}
}

func filledData() map[string]string {
	return map[string]string{
		"name":     "John Smith",
		"email":    "john@example.com",
		"phone":    "555-123-4567",
		"service":  "Kitchen remodel",
		"timeline": "Next month",
		"budget":   "About 20k",
	}
}

func sessionAt(step domain.Step, data map[string]string) *domain.Session {
	s := domain.NewSession("sess-1", "sales", testNow)
	s.CurrentStep = step
	for k, v := range data {
		s.CollectedData[k] = v
	}
	return s
}

func newTestMachine() *Machine {
	return NewMachine(NewComposer(FixedSource(0), nil, nil), fixedClock)
}

type agentMap map[string]*domain.AgentDefinition

func (a agentMap) Get(id string) (*domain.AgentDefinition, error) {
	def, ok := a[id]
	if !ok {
		return nil, ErrUnknownAgent
	}
	return def, nil
}

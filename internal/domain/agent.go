package domain

import (
	"errors"
	"fmt"
)

// FieldDefinition is a core contact field the agent must collect.
type FieldDefinition struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label" yaml:"label"`
	Required bool   `json:"required" yaml:"required"`
}

// Question is an agent-specific question asked after the core fields.
type Question struct {
	ID       string `json:"id" yaml:"id"`
	Question string `json:"question" yaml:"question"`
	Required bool   `json:"required" yaml:"required"`
}

// AgentDefinition is the questionnaire an agent runs through on a call.
// Field and question order is significant.
type AgentDefinition struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Fields    []FieldDefinition `json:"fields" yaml:"fields"`
	Questions []Question        `json:"questions" yaml:"questions"`
}

var errEmptyAgentID = errors.New("agent id is required")

// Validate checks that ids are present and unique across fields and questions.
func (a *AgentDefinition) Validate() error {
	if a.ID == "" {
		return errEmptyAgentID
	}
	seen := make(map[string]struct{}, len(a.Fields)+len(a.Questions))
	for i, f := range a.Fields {
		if f.ID == "" {
			return fmt.Errorf("agent %s: field %d has no id", a.ID, i)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("agent %s: duplicate field id %q", a.ID, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	for i, q := range a.Questions {
		if q.ID == "" {
			return fmt.Errorf("agent %s: question %d has no id", a.ID, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("agent %s: duplicate question id %q", a.ID, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// KnownField reports whether id names a configured field or question.
func (a *AgentDefinition) KnownField(id string) bool {
	for _, f := range a.Fields {
		if f.ID == id {
			return true
		}
	}
	for _, q := range a.Questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

// FieldOrder returns every field id followed by every question id.
func (a *AgentDefinition) FieldOrder() []string {
	order := make([]string, 0, len(a.Fields)+len(a.Questions))
	for _, f := range a.Fields {
		order = append(order, f.ID)
	}
	for _, q := range a.Questions {
		order = append(order, q.ID)
	}
	return order
}

// LabelFor returns the human label of a field or the text of a question.
func (a *AgentDefinition) LabelFor(id string) string {
	for _, f := range a.Fields {
		if f.ID == id {
			if f.Label != "" {
				return f.Label
			}
			return f.ID
		}
	}
	for _, q := range a.Questions {
		if q.ID == id {
			return q.Question
		}
	}
	return id
}

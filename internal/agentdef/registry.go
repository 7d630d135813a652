// Package agentdef loads agent questionnaire definitions.
package agentdef

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ashureev/callagent/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultAgentID names the built-in agent.
const DefaultAgentID = "default"

// ErrUnknownAgent is returned for an agent id with no definition.
var ErrUnknownAgent = errors.New("unknown agent")

const (
	minQuestions = 3
	maxQuestions = 10
)

type file struct {
	Agents []domain.AgentDefinition `yaml:"agents"`
}

// Registry serves agent definitions by id.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.AgentDefinition
}

// NewRegistry validates defs and indexes them by id.
func NewRegistry(defs ...domain.AgentDefinition) (*Registry, error) {
	r := &Registry{agents: make(map[string]*domain.AgentDefinition, len(defs))}
	for i := range defs {
		def := defs[i]
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.agents[def.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", def.ID)
		}
		if n := len(def.Questions); n < minQuestions || n > maxQuestions {
			slog.Warn("Agent question count outside recommended range",
				"agent_id", def.ID, "questions", n, "min", minQuestions, "max", maxQuestions)
		}
		r.agents[def.ID] = &def
	}
	return r, nil
}

// Load reads a YAML file of the form
//
//	agents:
//	  - id: sales
//	    name: Ava
//	    fields: [{id: name, label: Name, required: true}, ...]
//	    questions: [{id: budget, question: What is your budget?, required: true}, ...]
//
// An empty path returns a registry holding only the built-in agent.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(Default())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML agent definitions. Unknown keys are rejected.
func Parse(data []byte) (*Registry, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode agents file: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, errors.New("agents file defines no agents")
	}
	return NewRegistry(f.Agents...)
}

// Get returns the definition for agentID.
func (r *Registry) Get(agentID string) (*domain.AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return def, nil
}

// IDs lists the registered agent ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Default returns the built-in agent: name, email and phone followed by
// three intake questions.
func Default() domain.AgentDefinition {
	return domain.AgentDefinition{
		ID:   DefaultAgentID,
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

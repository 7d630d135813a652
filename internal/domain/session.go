// Package domain contains core domain types for the call agent service.
package domain

import (
	"strings"
	"time"
)

// Step is the position of a call session in the conversation.
type Step string

const (
	StepGreeting   Step = "greeting"
	StepCollecting Step = "collecting"
	StepConfirming Step = "confirming"
	StepBooking    Step = "booking"
	StepComplete   Step = "complete"
)

// Steps lists every step in conversation order.
var Steps = []Step{StepGreeting, StepCollecting, StepConfirming, StepBooking, StepComplete}

// Valid reports whether s is one of the defined steps.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Index returns the position of s in conversation order, or -1.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Role identifies who produced a history entry.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
)

// HistoryEntry is one line of the conversation transcript.
type HistoryEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds persisted state for one conversation with a lead.
type Session struct {
	SessionID           string            `json:"session_id"`
	AgentID             string            `json:"agent_id"`
	CurrentStep         Step              `json:"current_step"`
	CollectedData       map[string]string `json:"collected_data"`
	InterruptionCount   int               `json:"interruption_count"`
	ConversationHistory []HistoryEntry    `json:"conversation_history"`
	Version             int64             `json:"version"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// NewSession returns a session at the greeting step with nothing collected.
func NewSession(sessionID, agentID string, now time.Time) *Session {
	return &Session{
		SessionID:           sessionID,
		AgentID:             agentID,
		CurrentStep:         StepGreeting,
		CollectedData:       map[string]string{},
		ConversationHistory: []HistoryEntry{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Clone returns a deep copy so callers can compute a transition without
// touching the loaded record.
func (s *Session) Clone() *Session {
	c := *s
	c.CollectedData = make(map[string]string, len(s.CollectedData))
	for k, v := range s.CollectedData {
		c.CollectedData[k] = v
	}
	c.ConversationHistory = append([]HistoryEntry(nil), s.ConversationHistory...)
	return &c
}

// Answered reports whether the field has a non-blank value.
func (s *Session) Answered(fieldID string) bool {
	return strings.TrimSpace(s.CollectedData[fieldID]) != ""
}

// Append adds a transcript entry.
func (s *Session) Append(role Role, text string, at time.Time) {
	s.ConversationHistory = append(s.ConversationHistory, HistoryEntry{
		Role:      role,
		Text:      text,
		Timestamp: at,
	})
}

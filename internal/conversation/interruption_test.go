package conversation

import (
	"testing"

	"github.com/ashureev/callagent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptionKeepsStep(t *testing.T) {
	h := NewInterruptionHandler(FixedSource(0), fixedClock)

	tests := []struct {
		step domain.Step
		want string
	}{
		{domain.StepCollecting, "Oh, sorry about that. Let's continue with your information when you're ready."},
		{domain.StepConfirming, "Oh, sorry about that. Just let me know if the details I read back are correct."},
		{domain.StepBooking, "Oh, sorry about that. Would you still like me to schedule that appointment?"},
		{domain.StepGreeting, "Oh, sorry about that. How can I help you?"},
		{domain.StepComplete, "Oh, sorry about that. How can I help you?"},
	}
	for _, tt := range tests {
		t.Run(string(tt.step), func(t *testing.T) {
			s := sessionAt(tt.step, map[string]string{"name": "Jane"})
			res := h.Handle(s, "wait, hold on")

			assert.Equal(t, tt.want, res.Reply)
			assert.Equal(t, 1, res.InterruptionCount)
			assert.Equal(t, tt.step, res.Session.CurrentStep)
			assert.Equal(t, map[string]string{"name": "Jane"}, res.Session.CollectedData)
			assert.Zero(t, s.InterruptionCount, "input session is untouched")
		})
	}
}

func TestInterruptionDoesNotExtract(t *testing.T) {
	h := NewInterruptionHandler(FixedSource(0), fixedClock)
	s := sessionAt(domain.StepCollecting, nil)

	res := h.Handle(s, "sorry, it's jane@example.com")
	assert.Empty(t, res.Session.CollectedData)
}

func TestInterruptionHistoryAndCount(t *testing.T) {
	h := NewInterruptionHandler(FixedSource(3), fixedClock)
	s := sessionAt(domain.StepBooking, filledData())

	for i := 1; i <= 3; i++ {
		res := h.Handle(s, "hang on")
		require.Equal(t, i, res.InterruptionCount)
		s = res.Session
	}

	require.Len(t, s.ConversationHistory, 6)
	assert.Equal(t, domain.RoleClient, s.ConversationHistory[4].Role)
	assert.Equal(t, "hang on", s.ConversationHistory[4].Text)
	assert.Equal(t, domain.RoleAgent, s.ConversationHistory[5].Role)
	assert.Equal(t, "No problem. Would you still like me to schedule that appointment?", s.ConversationHistory[5].Text)
}

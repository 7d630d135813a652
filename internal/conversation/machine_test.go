package conversation

import (
	"context"
	"testing"

	"github.com/ashureev/callagent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func advance(t *testing.T, m *Machine, def *domain.AgentDefinition, s *domain.Session, msg string) *Outcome {
	t.Helper()
	out, err := m.Advance(context.Background(), def, s, msg)
	require.NoError(t, err)
	return out
}

func TestMachineFullCall(t *testing.T) {
	m := newTestMachine()
	def := salesAgent()
	s := domain.NewSession("sess-1", "sales", testNow)

	out := advance(t, m, def, s, "Hello?")
	assert.Equal(t, domain.StepCollecting, out.NextStep)
	assert.Equal(t, "Great! Hi, this is Ava. Thanks for taking a moment to talk with me. I just need a few details to get you set up. Could you please tell me your name?", out.Reply)
	assert.Empty(t, out.CollectedData, "the greeting reply does not extract")

	steps := []struct {
		msg   string
		reply string
	}{
		{"John Smith", "Could you please tell me your email?"},
		{"john@example.com", "Could you please tell me your phone?"},
		{"555-123-4567", "What service are you interested in?"},
		{"Kitchen remodel", "When are you hoping to get started?"},
		{"Next month", "Do you have a budget in mind?"},
	}
	for _, st := range steps {
		s = out.Session
		out = advance(t, m, def, s, st.msg)
		assert.Equal(t, domain.StepCollecting, out.NextStep, st.msg)
		assert.Equal(t, st.reply, out.Reply)
	}

	out = advance(t, m, def, out.Session, "About 20k")
	assert.Equal(t, domain.StepConfirming, out.NextStep)
	assert.Equal(t, filledData(), out.CollectedData)
	assert.Equal(t, "Let me make sure I have everything right. Name: John Smith. Email: john@example.com. Phone: 555-123-4567. "+
		"What service are you interested in: Kitchen remodel. When are you hoping to get started: Next month. "+
		"Do you have a budget in mind: About 20k. Is all of that correct?", out.Reply)

	out = advance(t, m, def, out.Session, "Yes, that's right")
	assert.Equal(t, domain.StepBooking, out.NextStep)
	assert.Equal(t, bookingOffer, out.Reply)

	out = advance(t, m, def, out.Session, "Sure, book it")
	assert.Equal(t, domain.StepComplete, out.NextStep)
	assert.Equal(t, bookingAccepted, out.Reply)
	assert.Contains(t, out.Reply, "24 hours")
	assert.True(t, out.FollowUp)

	// 9 turns, two entries each.
	assert.Len(t, out.Session.ConversationHistory, 18)
}

func TestMachineEmailBeforeName(t *testing.T) {
	m := newTestMachine()
	def := salesAgent()
	s := sessionAt(domain.StepCollecting, nil)

	out := advance(t, m, def, s, "my email is jane@example.com")
	assert.Equal(t, map[string]string{"email": "jane@example.com"}, out.CollectedData)
	assert.Equal(t, domain.StepCollecting, out.NextStep)
	assert.Equal(t, "Could you please tell me your name?", out.Reply, "the first missing field is asked next")
}

func TestMachineUnrecognizedRepeatsPrompt(t *testing.T) {
	m := newTestMachine()
	def := salesAgent()
	s := sessionAt(domain.StepCollecting, map[string]string{"name": "Jane"})

	out := advance(t, m, def, s, "I am not sure what you mean by that question")
	assert.Equal(t, domain.StepCollecting, out.NextStep)
	assert.Equal(t, "Could you please tell me your email?", out.Reply)
	assert.Equal(t, map[string]string{"name": "Jane"}, out.CollectedData)
}

func TestMachineConfirmingDecline(t *testing.T) {
	m := newTestMachine()
	def := salesAgent()

	t.Run("named field is cleared and asked again", func(t *testing.T) {
		s := sessionAt(domain.StepConfirming, filledData())
		out := advance(t, m, def, s, "No, the phone is wrong")
		assert.Equal(t, domain.StepCollecting, out.NextStep)
		assert.NotContains(t, out.CollectedData, "phone")
		assert.Equal(t, correctionField+" Could you please tell me your phone?", out.Reply)

		out = advance(t, m, def, out.Session, "555.987.6543")
		assert.Equal(t, domain.StepConfirming, out.NextStep)
		assert.Equal(t, "555.987.6543", out.CollectedData["phone"])
	})

	t.Run("new email replaces the old one", func(t *testing.T) {
		s := sessionAt(domain.StepConfirming, filledData())
		out := advance(t, m, def, s, "No, it should be jsmith@work.io")
		assert.Equal(t, domain.StepCollecting, out.NextStep)
		assert.Equal(t, "jsmith@work.io", out.CollectedData["email"])
		assert.Contains(t, out.Reply, correctionApply)

		out = advance(t, m, def, out.Session, "yes")
		assert.Equal(t, domain.StepBooking, out.NextStep)
		assert.Equal(t, bookingOffer, out.Reply)
		assert.Equal(t, "jsmith@work.io", out.CollectedData["email"])
	})

	t.Run("another correction after the read back", func(t *testing.T) {
		s := sessionAt(domain.StepConfirming, filledData())
		out := advance(t, m, def, s, "No, it should be jsmith@work.io")
		out = advance(t, m, def, out.Session, "and 555.987.6543 for the phone")
		assert.Equal(t, domain.StepConfirming, out.NextStep)
		assert.Equal(t, "555.987.6543", out.CollectedData["phone"])
		assert.Contains(t, out.Reply, "Email: jsmith@work.io.")
	})

	t.Run("unspecified correction keeps data", func(t *testing.T) {
		s := sessionAt(domain.StepConfirming, filledData())
		out := advance(t, m, def, s, "Nope")
		assert.Equal(t, domain.StepCollecting, out.NextStep)
		assert.Equal(t, correctionAsk, out.Reply)
		assert.Equal(t, filledData(), out.CollectedData)
	})

	t.Run("field named after the question is asked again", func(t *testing.T) {
		s := sessionAt(domain.StepConfirming, filledData())
		out := advance(t, m, def, s, "Nope")
		out = advance(t, m, def, out.Session, "my phone")
		assert.Equal(t, domain.StepCollecting, out.NextStep)
		assert.NotContains(t, out.CollectedData, "phone")
		assert.Equal(t, correctionField+" Could you please tell me your phone?", out.Reply)

		out = advance(t, m, def, out.Session, "555.987.6543")
		assert.Equal(t, domain.StepConfirming, out.NextStep)
		assert.Equal(t, "555.987.6543", out.CollectedData["phone"])
	})

	t.Run("affirmative after the question accepts the summary", func(t *testing.T) {
		s := sessionAt(domain.StepConfirming, filledData())
		out := advance(t, m, def, s, "Nope")
		out = advance(t, m, def, out.Session, "Actually yes, that's fine")
		assert.Equal(t, domain.StepBooking, out.NextStep)
		assert.Equal(t, bookingOffer, out.Reply)
		assert.Equal(t, filledData(), out.CollectedData)
	})

	t.Run("anything else reads the details back", func(t *testing.T) {
		s := sessionAt(domain.StepConfirming, filledData())
		out := advance(t, m, def, s, "Nope")
		out = advance(t, m, def, out.Session, "hmm")
		assert.Equal(t, domain.StepConfirming, out.NextStep)
		assert.Equal(t, summaryText(def, filledData()), out.Reply)
	})
}

func TestMachineBookingDecline(t *testing.T) {
	m := newTestMachine()
	out := advance(t, m, salesAgent(), sessionAt(domain.StepBooking, filledData()), "No thanks")
	assert.Equal(t, domain.StepComplete, out.NextStep)
	assert.Equal(t, politeClose, out.Reply)
	assert.False(t, out.FollowUp)
}

func TestMachineTokensAreCaseInsensitive(t *testing.T) {
	m := newTestMachine()
	out := advance(t, m, salesAgent(), sessionAt(domain.StepConfirming, filledData()), "YES")
	assert.Equal(t, domain.StepBooking, out.NextStep)

	out = advance(t, m, salesAgent(), sessionAt(domain.StepBooking, filledData()), "Please BOOK me in")
	assert.Equal(t, domain.StepComplete, out.NextStep)
	assert.True(t, out.FollowUp)
}

func TestMachineCompleteIsNoOp(t *testing.T) {
	m := newTestMachine()
	s := sessionAt(domain.StepComplete, filledData())

	out := advance(t, m, salesAgent(), s, "hello? anyone there?")
	assert.Equal(t, domain.StepComplete, out.NextStep)
	assert.Equal(t, "Great! "+closedReplay, out.Reply)
	assert.Equal(t, filledData(), out.CollectedData)
}

func TestMachineBlankMessageReprompts(t *testing.T) {
	m := newTestMachine()
	def := salesAgent()

	tests := []struct {
		step  domain.Step
		data  map[string]string
		reply string
	}{
		{domain.StepGreeting, nil, "Great! " + greetingText(def)},
		{domain.StepCollecting, map[string]string{"name": "Jane"}, "Could you please tell me your email?"},
		{domain.StepConfirming, filledData(), summaryText(def, filledData())},
		{domain.StepBooking, filledData(), bookingOffer},
	}
	for _, tt := range tests {
		t.Run(string(tt.step), func(t *testing.T) {
			s := sessionAt(tt.step, tt.data)
			out := advance(t, m, def, s, "   ")
			assert.Equal(t, tt.step, out.NextStep)
			assert.Equal(t, tt.reply, out.Reply)
			assert.Len(t, out.Session.ConversationHistory, 2)
		})
	}
}

func TestMachineDoesNotMutateInput(t *testing.T) {
	m := newTestMachine()
	s := sessionAt(domain.StepCollecting, nil)

	out := advance(t, m, salesAgent(), s, "Jane")
	assert.Empty(t, s.CollectedData)
	assert.Empty(t, s.ConversationHistory)
	assert.Equal(t, domain.StepCollecting, s.CurrentStep)
	assert.Equal(t, "Jane", out.Session.CollectedData["name"])
}

func TestMachineHistoryEntries(t *testing.T) {
	m := newTestMachine()
	out := advance(t, m, salesAgent(), sessionAt(domain.StepCollecting, nil), "Jane")

	h := out.Session.ConversationHistory
	require.Len(t, h, 2)
	assert.Equal(t, domain.HistoryEntry{Role: domain.RoleClient, Text: "Jane", Timestamp: testNow}, h[0])
	assert.Equal(t, domain.RoleAgent, h[1].Role)
	assert.Equal(t, out.Reply, h[1].Text)
}

func TestMachineOnlyKnownKeys(t *testing.T) {
	m := newTestMachine()
	def := salesAgent()
	s := domain.NewSession("sess-1", "sales", testNow)

	msgs := []string{"hi", "Jane", "jane@example.com", "no idea honestly, what do you offer here", "5551234567",
		"Roofing", "ASAP", "10k", "no, my name is wrong", "Jane Doe", "yes", "yes"}
	for _, msg := range msgs {
		out := advance(t, m, def, s, msg)
		for k := range out.CollectedData {
			assert.True(t, def.KnownField(k), "unexpected key %q", k)
		}
		s = out.Session
	}
	assert.Equal(t, domain.StepComplete, s.CurrentStep)
	assert.Equal(t, "Jane Doe", s.CollectedData["name"])
}

func TestTransitionTable(t *testing.T) {
	m := newTestMachine()
	for _, step := range domain.Steps {
		row, ok := m.table[step]
		require.True(t, ok, "no row for %s", step)
		for event, tr := range row.on {
			require.NotEmpty(t, tr.targets, "%s/%s", step, event)
			for _, to := range tr.targets {
				if step == domain.StepConfirming && to == domain.StepCollecting {
					continue
				}
				assert.GreaterOrEqual(t, to.Index(), step.Index(), "%s/%s -> %s moves backwards", step, event, to)
			}
		}
	}
}

func TestMachineRejectsStepOutsideTable(t *testing.T) {
	m := newTestMachine()
	m.table[domain.StepGreeting] = stateRow{
		classify: func(string) Event { return EventMessage },
		on: map[Event]transition{
			EventMessage: {
				targets: []domain.Step{domain.StepCollecting},
				action:  func(*turn) (string, domain.Step) { return "skip", domain.StepBooking },
			},
		},
	}

	s := sessionAt(domain.StepGreeting, nil)
	_, err := m.Advance(context.Background(), salesAgent(), s, "hi")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.StepGreeting, s.CurrentStep)
	assert.Empty(t, s.ConversationHistory)
}

func TestMachineInvalidStep(t *testing.T) {
	m := newTestMachine()
	s := sessionAt("voicemail", nil)
	_, err := m.Advance(context.Background(), salesAgent(), s, "hi")
	assert.ErrorIs(t, err, ErrInvalidStep)
}

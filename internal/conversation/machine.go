package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/callagent/internal/domain"
)

var (
	// ErrInvalidStep is returned when a session carries an unknown step.
	ErrInvalidStep = errors.New("session has an invalid step")
	// ErrInvalidTransition means an action chose a step its table cell does not list.
	ErrInvalidTransition = errors.New("transition not in state table")
)

// Event classifies an inbound message relative to the current step.
type Event string

const (
	EventBlank    Event = "blank"
	EventMessage  Event = "message"
	EventAffirm   Event = "affirm"
	EventDecline  Event = "decline"
	EventAnything Event = "any"
)

// transition is one cell of the state table.
type transition struct {
	// targets lists every step the action may move to.
	targets []domain.Step
	action  func(t *turn) (string, domain.Step)
}

func (tr transition) allows(step domain.Step) bool {
	return slices.Contains(tr.targets, step)
}

type stateRow struct {
	classify func(message string) Event
	on       map[Event]transition
}

// turn carries the working copy of a session through one transition.
type turn struct {
	def     *domain.AgentDefinition
	session *domain.Session
	message string

	// followUp is set when the caller accepted the booking offer.
	followUp bool
}

// Outcome is the result of advancing a session by one message.
type Outcome struct {
	Reply         string
	PreviousStep  domain.Step
	NextStep      domain.Step
	CollectedData map[string]string
	// Session is the updated copy, ready to persist.
	Session  *domain.Session
	FollowUp bool
}

// Machine drives the call conversation through its steps.
type Machine struct {
	composer *Composer
	now      func() time.Time
	table    map[domain.Step]stateRow
}

// NewMachine creates a state machine that finalizes replies with composer.
func NewMachine(composer *Composer, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	m := &Machine{composer: composer, now: now}
	m.table = buildTable()
	return m
}

func buildTable() map[domain.Step]stateRow {
	blankOr := func(next func(string) Event) func(string) Event {
		return func(msg string) Event {
			if strings.TrimSpace(msg) == "" {
				return EventBlank
			}
			return next(msg)
		}
	}
	tokens := func(set []string) func(string) Event {
		return func(msg string) Event {
			if containsAny(msg, set) {
				return EventAffirm
			}
			return EventDecline
		}
	}
	plain := func(string) Event { return EventMessage }

	return map[domain.Step]stateRow{
		domain.StepGreeting: {
			classify: blankOr(plain),
			on: map[Event]transition{
				EventBlank:   {targets: []domain.Step{domain.StepGreeting}, action: repromptGreeting},
				EventMessage: {targets: []domain.Step{domain.StepCollecting}, action: greet},
			},
		},
		domain.StepCollecting: {
			classify: blankOr(plain),
			on: map[Event]transition{
				EventBlank:   {targets: []domain.Step{domain.StepCollecting, domain.StepConfirming}, action: repromptCollecting},
				EventMessage: {targets: []domain.Step{domain.StepCollecting, domain.StepConfirming, domain.StepBooking}, action: collect},
			},
		},
		domain.StepConfirming: {
			classify: blankOr(tokens(confirmTokens)),
			on: map[Event]transition{
				EventBlank:   {targets: []domain.Step{domain.StepConfirming}, action: repromptConfirming},
				EventAffirm:  {targets: []domain.Step{domain.StepBooking}, action: offerBooking},
				EventDecline: {targets: []domain.Step{domain.StepCollecting}, action: startCorrection},
			},
		},
		domain.StepBooking: {
			classify: blankOr(tokens(bookingTokens)),
			on: map[Event]transition{
				EventBlank:   {targets: []domain.Step{domain.StepBooking}, action: repromptBooking},
				EventAffirm:  {targets: []domain.Step{domain.StepComplete}, action: acceptBooking},
				EventDecline: {targets: []domain.Step{domain.StepComplete}, action: declineBooking},
			},
		},
		domain.StepComplete: {
			classify: func(string) Event { return EventAnything },
			on: map[Event]transition{
				EventAnything: {targets: []domain.Step{domain.StepComplete}, action: replayClose},
			},
		},
	}
}

// Advance applies one inbound message to a copy of session. The returned
// Outcome.Session has exactly one client and one agent entry appended.
// The input session is not modified.
func (m *Machine) Advance(ctx context.Context, def *domain.AgentDefinition, session *domain.Session, message string) (*Outcome, error) {
	if session == nil || def == nil {
		return nil, errors.New("advance: session and agent definition are required")
	}
	row, ok := m.table[session.CurrentStep]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStep, session.CurrentStep)
	}

	event := row.classify(message)
	tr, ok := row.on[event]
	if !ok {
		return nil, fmt.Errorf("no transition for %s on %s", session.CurrentStep, event)
	}

	work := session.Clone()
	t := &turn{def: def, session: work, message: message}
	from := work.CurrentStep
	core, next := tr.action(t)
	if !tr.allows(next) {
		return nil, fmt.Errorf("%w: %s on %s moved to %s", ErrInvalidTransition, from, event, next)
	}

	reply := core
	if m.composer != nil {
		reply = m.composer.Compose(ctx, from, core, def, work.ConversationHistory)
	}

	now := m.now()
	work.Append(domain.RoleClient, message, now)
	work.Append(domain.RoleAgent, reply, now)
	work.CurrentStep = next

	return &Outcome{
		Reply:         reply,
		PreviousStep:  from,
		NextStep:      next,
		CollectedData: work.CollectedData,
		Session:       work,
		FollowUp:      t.followUp,
	}, nil
}

func greet(t *turn) (string, domain.Step) {
	reply := greetingText(t.def)
	if pending := PendingFields(t.session.CollectedData, t.def); len(pending) > 0 {
		reply += " " + promptFor(t.def, pending[0])
	}
	return reply, domain.StepCollecting
}

func repromptGreeting(t *turn) (string, domain.Step) {
	return greetingText(t.def), domain.StepGreeting
}

func collect(t *turn) (string, domain.Step) {
	collected := t.session.CollectedData
	pending := PendingFields(collected, t.def)

	if len(pending) == 0 {
		return reviseCollected(t)
	}

	if u := Extract(t.message, collected, extractionOrder(collected, t.def)); u.OK() {
		collected[u.FieldID] = u.Value
		pending = PendingFields(collected, t.def)
	}

	if len(pending) == 0 {
		return summaryText(t.def, collected), domain.StepConfirming
	}
	return promptFor(t.def, pending[0]), domain.StepCollecting
}

// reviseCollected handles a collecting turn with nothing missing, which only
// happens after the caller disputed the summary. A new email or phone is
// applied and read back. A named field is cleared and asked again. An
// affirmative accepts the summary already read back. Anything else reads the
// details back once more.
func reviseCollected(t *turn) (string, domain.Step) {
	collected := t.session.CollectedData
	if updates := extractPatterns(t.message, t.def.FieldOrder()); len(updates) > 0 {
		for _, u := range updates {
			collected[u.FieldID] = u.Value
		}
		return correctionApply + " " + summaryText(t.def, collected), domain.StepConfirming
	}
	if id := mentionedField(t.message, t.def); id != "" {
		delete(collected, id)
		return correctionField + " " + promptFor(t.def, id), domain.StepCollecting
	}
	if containsAny(t.message, confirmTokens) {
		return bookingOffer, domain.StepBooking
	}
	return summaryText(t.def, collected), domain.StepConfirming
}

func repromptCollecting(t *turn) (string, domain.Step) {
	pending := PendingFields(t.session.CollectedData, t.def)
	if len(pending) == 0 {
		return summaryText(t.def, t.session.CollectedData), domain.StepConfirming
	}
	return promptFor(t.def, pending[0]), domain.StepCollecting
}

func repromptConfirming(t *turn) (string, domain.Step) {
	return summaryText(t.def, t.session.CollectedData), domain.StepConfirming
}

func offerBooking(_ *turn) (string, domain.Step) {
	return bookingOffer, domain.StepBooking
}

// startCorrection moves back to collecting. A new email or phone in the
// message replaces the stored value; a named field is cleared so collecting
// asks for it again; otherwise nothing is cleared.
func startCorrection(t *turn) (string, domain.Step) {
	collected := t.session.CollectedData
	if updates := extractPatterns(t.message, t.def.FieldOrder()); len(updates) > 0 {
		for _, u := range updates {
			collected[u.FieldID] = u.Value
		}
		return correctionApply + " " + summaryText(t.def, collected), domain.StepCollecting
	}
	if id := mentionedField(t.message, t.def); id != "" {
		delete(collected, id)
		return correctionField + " " + promptFor(t.def, id), domain.StepCollecting
	}
	return correctionAsk, domain.StepCollecting
}

func repromptBooking(_ *turn) (string, domain.Step) {
	return bookingOffer, domain.StepBooking
}

func acceptBooking(t *turn) (string, domain.Step) {
	t.followUp = true
	return bookingAccepted, domain.StepComplete
}

func declineBooking(_ *turn) (string, domain.Step) {
	return politeClose, domain.StepComplete
}

func replayClose(_ *turn) (string, domain.Step) {
	return closedReplay, domain.StepComplete
}

// extractionOrder is the prompt order followed by optional core fields that
// are still empty, so email and phone patterns can fill optional fields too.
func extractionOrder(collected map[string]string, def *domain.AgentDefinition) []string {
	order := PendingFields(collected, def)
	for _, f := range def.Fields {
		if !f.Required && blank(collected[f.ID]) {
			order = append(order, f.ID)
		}
	}
	return order
}

// mentionedField returns the first configured field whose id or label
// appears in message.
func mentionedField(message string, def *domain.AgentDefinition) string {
	lower := strings.ToLower(message)
	for _, f := range def.Fields {
		if strings.Contains(lower, strings.ToLower(f.ID)) ||
			(f.Label != "" && strings.Contains(lower, strings.ToLower(f.Label))) {
			return f.ID
		}
	}
	for _, q := range def.Questions {
		if strings.Contains(lower, strings.ToLower(strings.ReplaceAll(q.ID, "_", " "))) {
			return q.ID
		}
	}
	return ""
}

package conversation

import (
	"time"

	"github.com/ashureev/callagent/internal/domain"
)

// InterruptionResult is the side-channel reply to an interruption.
type InterruptionResult struct {
	Reply             string
	InterruptionCount int
	// Session is the updated copy, ready to persist. Its step is unchanged.
	Session *domain.Session
}

// InterruptionHandler answers a caller who talks over the agent.
type InterruptionHandler struct {
	rnd RandomSource
	now func() time.Time
}

// NewInterruptionHandler creates a handler drawing acknowledgments from rnd.
func NewInterruptionHandler(rnd RandomSource, now func() time.Time) *InterruptionHandler {
	if now == nil {
		now = time.Now
	}
	return &InterruptionHandler{rnd: rnd, now: now}
}

// Handle acknowledges the interruption with a fragment chosen by the
// session's current step. It never runs extraction or changes the step; it
// increments the interruption count and appends the inbound message and the
// combined reply to the transcript.
func (h *InterruptionHandler) Handle(session *domain.Session, message string) *InterruptionResult {
	work := session.Clone()
	work.InterruptionCount++

	fragment, ok := interruptionFragments[work.CurrentStep]
	if !ok {
		fragment = defaultInterruptionFragment
	}
	reply := pick(h.rnd, acknowledgmentPhrases) + " " + fragment

	now := h.now()
	work.Append(domain.RoleClient, message, now)
	work.Append(domain.RoleAgent, reply, now)

	return &InterruptionResult{
		Reply:             reply,
		InterruptionCount: work.InterruptionCount,
		Session:           work,
	}
}

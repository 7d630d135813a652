// Package conversation implements the call-session state machine and the
// request/response lifecycle around it.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/ashureev/callagent/internal/domain"
	"github.com/ashureev/callagent/internal/generator"
	"github.com/ashureev/callagent/internal/observability"
	"github.com/ashureev/callagent/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Request is one inbound caller message.
type Request struct {
	SessionID      string   `json:"sessionId" validate:"required,max=128"`
	Message        string   `json:"message" validate:"required,max=4000"`
	IsInterruption bool     `json:"isInterruption"`
	AudioLevel     *float64 `json:"audioLevel,omitempty" validate:"omitempty,gte=0"`
}

// Result is returned to the caller after a message is committed.
type Result struct {
	Response          string      `json:"response"`
	NextStep          domain.Step `json:"nextStep"`
	ShouldCollectMore bool        `json:"shouldCollectMore"`
	BookingAvailable  bool        `json:"bookingAvailable"`
}

// Snapshot is a read-only view of a session with its readiness flags.
type Snapshot struct {
	Session           *domain.Session `json:"session"`
	ShouldCollectMore bool            `json:"shouldCollectMore"`
	BookingAvailable  bool            `json:"bookingAvailable"`
}

// AgentSource resolves agent definitions.
type AgentSource interface {
	Get(agentID string) (*domain.AgentDefinition, error)
}

// FollowUp is emitted when a caller accepts the booking offer.
type FollowUp struct {
	SessionID     string
	AgentID       string
	CollectedData map[string]string
	RequestedAt   time.Time
}

// FollowUpNotifier hands accepted bookings to the follow-up scheduler.
type FollowUpNotifier interface {
	NotifyFollowUp(ctx context.Context, f FollowUp) error
}

type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) NotifyFollowUp(_ context.Context, f FollowUp) error {
	n.logger.Info("Follow-up requested", "session_id", f.SessionID, "agent_id", f.AgentID, "fields", len(f.CollectedData))
	return nil
}

// Service processes caller messages against persisted sessions.
type Service struct {
	repo       store.SessionStore
	agents     AgentSource
	machine    *Machine
	interrupts *InterruptionHandler
	locks      *sessionLocks
	notifier   FollowUpNotifier
	metrics    *observability.Metrics
	logger     *slog.Logger
	validate   *validator.Validate
	now        func() time.Time
}

type options struct {
	rnd       RandomSource
	generator generator.Generator
	notifier  FollowUpNotifier
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*options)

// WithRandomSource sets the source used for filler and acknowledgment phrases.
func WithRandomSource(rnd RandomSource) Option {
	return func(o *options) { o.rnd = rnd }
}

// WithGenerator enables a generation pass over composed replies.
func WithGenerator(g generator.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithFollowUpNotifier sets where accepted bookings are reported.
func WithFollowUpNotifier(n FollowUpNotifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithMetrics records processing metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewService wires the state machine to a session store and agent source.
func NewService(repo store.SessionStore, agents AgentSource, opts ...Option) *Service {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.rnd == nil {
		o.rnd = NewRandomSource(uint64(time.Now().UnixNano()))
	}
	if o.notifier == nil {
		o.notifier = logNotifier{logger: o.logger}
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)

	composer := NewComposer(o.rnd, o.generator, o.logger)
	return &Service{
		repo:       repo,
		agents:     agents,
		machine:    NewMachine(composer, o.now),
		interrupts: NewInterruptionHandler(o.rnd, o.now),
		locks:      newSessionLocks(),
		notifier:   o.notifier,
		metrics:    o.metrics,
		logger:     o.logger,
		validate:   v,
		now:        o.now,
	}
}

// StartSession creates a session for agentID at the greeting step.
func (s *Service) StartSession(ctx context.Context, agentID string) (*domain.Session, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, &ValidationError{Field: "agentId", Reason: "is required"}
	}
	if _, err := s.agents.Get(agentID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAgent, err)
	}

	session := domain.NewSession(uuid.NewString(), agentID, s.now())
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.metrics.SessionStarted(agentID)
	s.logger.Info("Call session started", "session_id", session.SessionID, "agent_id", agentID)
	return session, nil
}

// GetSession returns the stored session with its readiness flags.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Snapshot, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	def, err := s.agents.Get(session.AgentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAgent, err)
	}
	return &Snapshot{
		Session:           session,
		ShouldCollectMore: NeedsMoreData(session.CollectedData, def),
		BookingAvailable:  CanOfferBooking(session.CollectedData, session.CurrentStep, def),
	}, nil
}

// ProcessMessage handles one inbound message. Messages for the same session
// are processed one at a time. The reply is only returned once the updated
// session is persisted; on ErrPersistence or ErrConflict nothing was
// committed and the caller may retry.
func (s *Service) ProcessMessage(ctx context.Context, req Request) (res *Result, err error) {
	started := time.Now()
	kind := "message"
	if req.IsInterruption {
		kind = "interruption"
	}
	defer func() {
		s.metrics.ObserveMessage(kind, resultLabel(err), started)
	}()

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	session, err := s.load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	def, err := s.agents.Get(session.AgentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownAgent, err)
	}

	logger := s.logger.With("session_id", session.SessionID, "step", session.CurrentStep)
	if req.AudioLevel != nil {
		logger = logger.With("audio_level", *req.AudioLevel)
	}

	var (
		updated  *domain.Session
		reply    string
		followUp bool
	)
	if req.IsInterruption {
		r := s.interrupts.Handle(session, req.Message)
		updated, reply = r.Session, r.Reply
		logger.Info("Interruption handled", "interruption_count", r.InterruptionCount)
	} else {
		out, err := s.machine.Advance(ctx, def, session, req.Message)
		if err != nil {
			logger.Error("State machine failed", "error", err)
			return nil, err
		}
		updated, reply, followUp = out.Session, out.Reply, out.FollowUp
		logger.Info("Message processed", "next_step", out.NextStep)
	}

	if err := s.repo.Update(ctx, updated, session.Version); err != nil {
		logger.Error("Failed to persist session", "error", err)
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			return nil, ErrConflict
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	s.metrics.ObserveTransition(string(session.CurrentStep), string(updated.CurrentStep))

	if followUp {
		f := FollowUp{
			SessionID:     updated.SessionID,
			AgentID:       updated.AgentID,
			CollectedData: updated.CollectedData,
			RequestedAt:   s.now(),
		}
		if err := s.notifier.NotifyFollowUp(ctx, f); err != nil {
			logger.Warn("Failed to schedule follow-up", "error", err)
		}
	}

	return &Result{
		Response:          reply,
		NextStep:          updated.CurrentStep,
		ShouldCollectMore: NeedsMoreData(updated.CollectedData, def),
		BookingAvailable:  CanOfferBooking(updated.CollectedData, updated.CurrentStep, def),
	}, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !session.CurrentStep.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStep, session.CurrentStep)
	}
	return session, nil
}

func (s *Service) validateRequest(req Request) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Reason: describeTag(fe.Tag(), fe.Param())}
	}
	return &ValidationError{Reason: err.Error()}
}

func describeTag(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + param + " characters"
	case "gte":
		return "must be >= " + param
	default:
		return "failed " + tag
	}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}

func resultLabel(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "error"
	}
}

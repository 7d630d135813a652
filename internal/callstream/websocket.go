package callstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/ashureev/callagent/internal/conversation"
	"github.com/ashureev/callagent/internal/observability"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// Frame types.
const (
	FrameMessage   = "message"
	FrameInterrupt = "interrupt"
	FramePing      = "ping"
	FramePong      = "pong"
	FrameReply     = "reply"
	FrameError     = "error"
)

// Processor handles caller messages. It is satisfied by *conversation.Service.
type Processor interface {
	ProcessMessage(ctx context.Context, req conversation.Request) (*conversation.Result, error)
}

// ClientFrame is sent by the caller.
type ClientFrame struct {
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	AudioLevel *float64 `json:"audioLevel,omitempty"`
}

// ServerFrame is sent to the caller.
type ServerFrame struct {
	Type        string `json:"type"`
	Interrupted bool   `json:"interrupted,omitempty"`
	*conversation.Result
	Error string `json:"error,omitempty"`
}

// WebSocketHandler serves /ws/call/{sessionID}.
type WebSocketHandler struct {
	svc            Processor
	sm             *SessionManager
	metrics        *observability.Metrics
	originPatterns []string
	queueSize      int
}

// NewWebSocketHandler creates a new WebSocket handler. metrics may be nil.
func NewWebSocketHandler(svc Processor, sm *SessionManager, metrics *observability.Metrics, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		svc:            svc,
		sm:             sm,
		metrics:        metrics,
		originPatterns: originHosts(allowedOrigins),
		queueSize:      16,
	}
}

// RegisterRoutes registers the live call route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/call/{sessionID}", h.ServeHTTP)
}

type pending struct {
	req         conversation.Request
	interrupted bool
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "call ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.sm.Register(sessionID, ws)
	defer h.sm.Unregister(sessionID, ws)
	h.metrics.CallOpened()
	defer h.metrics.CallClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// inFlight counts queued and in-progress messages. A message that
	// arrives while the agent is still replying is an interruption.
	var inFlight atomic.Int32
	queue := make(chan pending, h.queueSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer cancel()
		h.replyLoop(ctx, ws, queue, &inFlight)
	}()

	h.readLoop(ctx, ws, sessionID, queue, &inFlight)
	close(queue)
	<-done
	slog.Info("Call stream ended", "session_id", sessionID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string, queue chan<- pending, inFlight *atomic.Int32) {
	for {
		var frame ClientFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		switch frame.Type {
		case FramePing:
			if err := wsjson.Write(ctx, ws, ServerFrame{Type: FramePong}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
			continue
		case FrameMessage, FrameInterrupt:
		default:
			if err := wsjson.Write(ctx, ws, ServerFrame{Type: FrameError, Error: "unknown frame type"}); err != nil {
				slog.Debug("Failed to send frame error", "error", err)
			}
			continue
		}

		interrupted := frame.Type == FrameInterrupt || inFlight.Load() > 0
		p := pending{
			req: conversation.Request{
				SessionID:      sessionID,
				Message:        frame.Content,
				IsInterruption: interrupted,
				AudioLevel:     frame.AudioLevel,
			},
			interrupted: interrupted,
		}
		inFlight.Add(1)
		select {
		case queue <- p:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) replyLoop(ctx context.Context, ws *websocket.Conn, queue <-chan pending, inFlight *atomic.Int32) {
	for p := range queue {
		res, err := h.svc.ProcessMessage(ctx, p.req)
		inFlight.Add(-1)

		frame := ServerFrame{Type: FrameReply, Interrupted: p.interrupted, Result: res}
		if err != nil {
			slog.Warn("Live call message failed", "error", err, "session_id", p.req.SessionID)
			frame = ServerFrame{Type: FrameError, Error: publicError(err)}
		}
		if err := wsjson.Write(ctx, ws, frame); err != nil {
			slog.Debug("WebSocket write error", "error", err)
			return
		}
	}
}

// originHosts converts CORS-style origins into the host patterns the
// websocket library matches against.
func originHosts(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		hosts = append(hosts, strings.TrimSuffix(o, "/"))
	}
	return hosts
}

func publicError(err error) string {
	var verr *conversation.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, conversation.ErrNotFound):
		return "session not found"
	case errors.Is(err, conversation.ErrConflict):
		return "session was updated concurrently, retry"
	case errors.Is(err, conversation.ErrPersistence):
		return "session could not be saved, retry"
	default:
		return "internal error"
	}
}

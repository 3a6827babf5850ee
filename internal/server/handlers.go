package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/casualjim/relay/internal/broker"
	"github.com/casualjim/relay/messages"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/relay"
	"github.com/casualjim/relay/transport"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
)

const maxBodySize = 1 << 20

type streamRequest struct {
	Message   string `json:"message"`
	Sender    string `json:"sender,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type sendMessageRequest struct {
	Content   string `json:"content"`
	Sender    string `json:"sender,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type sendMessageResponse struct {
	UserMessage messages.Message `json:"userMessage"`
	AIMessage   messages.Message `json:"aiMessage"`
}

type healthResponse struct {
	Status       string          `json:"status"`
	Timestamp    strfmt.DateTime `json:"timestamp"`
	HasAPIKey    bool            `json:"hasApiKey"`
	APIKeyFormat string          `json:"apiKeyFormat"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = s.ids()
	}

	var sseOpts []opts.Option[transport.SSEWriter]
	if r.URL.Query().Get("sentinel") == "done" {
		sseOpts = append(sseOpts, transport.WithDoneSentinel())
	}
	w.Header().Set("X-Session-Id", req.SessionID)
	sink, release := s.sink(r.Context(), req.SessionID, transport.SSE(w, sseOpts...))
	defer release()

	s.relay.Run(r.Context(), relay.Request{SessionID: req.SessionID, Prompt: req.Message, Sender: req.Sender}, sink)
}

// sink adds the session topic when a broker is configured. The returned func
// gives the topic back and must run once the exchange is over.
func (s *Server) sink(ctx context.Context, sessionID string, primary relay.Sink) (relay.Sink, func()) {
	if s.broker == nil {
		return primary, func() {}
	}
	topic := s.broker.Topic(ctx, sessionID)
	return transport.Tee(primary, transport.Publisher(topic)), func() {
		s.broker.Release(ctx, sessionID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.relay.Status()
	format := "missing"
	switch {
	case st.IsValid:
		format = "valid"
	case st.HasAPIKey:
		format = "invalid"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Timestamp:    strfmt.DateTime(s.clock().UTC()),
		HasAPIKey:    st.HasAPIKey,
		APIKeyFormat: format,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Log().Snapshot())
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = s.ids()
	}

	sink, release := s.sink(r.Context(), req.SessionID, transport.NewCollector())
	defer release()

	out := s.relay.Run(r.Context(), relay.Request{
		SessionID: req.SessionID,
		Prompt:    req.Content,
		Sender:    req.Sender,
	}, sink)

	switch out.State {
	case relay.Completed:
		writeJSON(w, http.StatusOK, sendMessageResponse{UserMessage: *out.User, AIMessage: *out.Message})
	case relay.Failed:
		writeError(w, http.StatusBadGateway, relay.FailureCopy(out.Err))
	default:
		s.logger.DebugContext(r.Context(), "client left before the answer was ready", slogx.SessionID(req.SessionID))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Status())
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusNotFound, "session events are not enabled")
		return
	}
	id := r.PathValue("id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	topic := s.broker.Topic(ctx, id)
	defer s.broker.Release(ctx, id)

	deltas := make(chan messages.Delta, 64)
	sub, err := topic.Subscribe(ctx, broker.HookFunc(func(ctx context.Context, d messages.Delta) {
		select {
		case deltas <- d:
		case <-ctx.Done():
		}
	}))
	if err != nil {
		s.logger.ErrorContext(ctx, "subscribing to session", slogx.Error(err), slogx.SessionID(id))
		writeError(w, http.StatusInternalServerError, "could not follow session")
		return
	}
	defer sub.Unsubscribe()

	sse := transport.SSE(w)
	defer sse.Close()
	sse.Start()
	if err := http.NewResponseController(w).Flush(); err != nil {
		s.logger.DebugContext(ctx, "flushing event stream", slogx.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-deltas:
			if err := sse.Send(ctx, d); err != nil {
				return
			}
			if d.IsComplete {
				return
			}
		}
	}
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing response", slogx.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

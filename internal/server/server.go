// Package server exposes the relay over HTTP.
//
// Routes:
//
//	POST /stream                 run an exchange, answer as server-sent events
//	GET  /health                 liveness and credential presence
//	GET  /api/messages           session log snapshot
//	POST /api/messages           run an exchange, answer as one JSON document
//	GET  /api/status             upstream availability
//	GET  /api/schema             JSON Schemas of the wire types
//	GET  /sessions/{id}/events   follow the deltas of a session
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/casualjim/relay/internal/broker"
	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/pkg/uuidx"
	"github.com/casualjim/relay/relay"
	"github.com/fogfish/opts"
)

type Server struct {
	relay      *relay.Relay
	broker     broker.Broker
	corsOrigin string
	logger     *slog.Logger
	clock      func() time.Time
	ids        uuidx.Generator
	handler    http.Handler
}

var (
	// WithBroker publishes every session's deltas and enables /sessions/{id}/events.
	WithBroker     = opts.ForName[Server, broker.Broker]("broker")
	WithCORSOrigin = opts.ForName[Server, string]("corsOrigin")
	WithLogger     = opts.ForName[Server, *slog.Logger]("logger")
	WithClock      = opts.ForName[Server, func() time.Time]("clock")
	WithIDs        = opts.ForName[Server, uuidx.Generator]("ids")
)

func New(r *relay.Relay, options ...opts.Option[Server]) *Server {
	s := &Server{
		relay:      r,
		corsOrigin: "*",
		clock:      time.Now,
		ids:        uuidx.NewString,
	}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	s.logger = slogx.Named(s.logger, "server")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /stream", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/schema", s.handleSchema)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleSessionEvents)

	s.handler = chainMiddlewares(mux, withCORS(s.corsOrigin), withLogging(s.logger))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Package api is the bridge's HTTP edge: thin mux handlers that decode,
// authenticate and rate-limit requests before handing them to the core.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/chorus-net/chorus-bridge/internal/bridge"
	"github.com/chorus-net/chorus-bridge/internal/conductor"
	"github.com/chorus-net/chorus-bridge/internal/database"
	"github.com/chorus-net/chorus-bridge/internal/metrics"
	"github.com/chorus-net/chorus-bridge/internal/middleware"
	"github.com/chorus-net/chorus-bridge/internal/security"
	"github.com/chorus-net/chorus-bridge/internal/trust"
)

// Server wires the bridge core to its HTTP surface.
type Server struct {
	core    *bridge.Service
	repo    database.Repository
	limiter *middleware.RateLimiter
	auth    *middleware.JWTAuthenticator
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewServer builds the edge. limiter, auth and metrics may be nil (tests).
func NewServer(core *bridge.Service, repo database.Repository, limiter *middleware.RateLimiter, auth *middleware.JWTAuthenticator, m *metrics.Metrics) *Server {
	return &Server{
		core:    core,
		repo:    repo,
		limiter: limiter,
		auth:    auth,
		metrics: m,
		logger:  log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router assembles the route table. Health endpoints bypass auth and rate
// limiting. Day proofs and the peer list are public reads: rate limited but
// never authenticated, so unenrolled instances can bootstrap from them. The
// write endpoints run the full middleware chain.
func (s *Server) Router() *mux.Router {
	root := mux.NewRouter()
	root.HandleFunc("/health/live", s.handleLive).Methods("GET")
	root.HandleFunc("/health/ready", s.handleReady).Methods("GET")

	public := root.PathPrefix("/api/bridge").Subrouter()
	if s.limiter != nil {
		public.Use(s.limiter.Middleware)
	}
	public.HandleFunc("/day-proof/{day}", s.handleDayProof).Methods("GET")
	public.HandleFunc("/federation/peers", s.handlePeers).Methods("GET")

	protected := root.PathPrefix("/api/bridge").Subrouter()
	if s.limiter != nil {
		protected.Use(s.limiter.Middleware)
	}
	if s.auth != nil {
		protected.Use(s.auth.Middleware)
	}
	protected.HandleFunc("/federation/send", s.handleFederationSend).Methods("POST")
	protected.HandleFunc("/export", s.handleExport).Methods("POST")
	protected.HandleFunc("/moderation/event", s.handleModerationEvent).Methods("POST")
	return root
}

// writeJSON emits a JSON body with the given status and counts the request.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
	if s.metrics != nil {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		s.metrics.HTTPRequests.WithLabelValues(path, strconv.Itoa(status)).Inc()
	}
}

// writeError maps a pipeline failure kind to its HTTP status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bridge.ErrInvalidEnvelope):
		status = http.StatusBadRequest
	case errors.Is(err, trust.ErrUnknownInstance), errors.Is(err, security.ErrSignatureInvalid):
		status = http.StatusForbidden
	case errors.Is(err, bridge.ErrDuplicateEnvelope), errors.Is(err, bridge.ErrDuplicateIdempotencyKey):
		status = http.StatusConflict
	case errors.Is(err, conductor.ErrBackendUnavailable), errors.Is(err, conductor.ErrNoHealthyBackend):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  fmt.Sprintf("database: %v", err),
		})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

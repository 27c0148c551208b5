package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/recordlock/recordlock/core/coordinator"
	"github.com/recordlock/recordlock/core/identity"
	"github.com/recordlock/recordlock/core/infra/logging"
	"github.com/recordlock/recordlock/core/infra/metrics"
)

const component = "gateway"

// Server is the synchronous request/response surface: settings, lock
// status polling and explicit lock set/clear for clients without a
// realtime channel.
type Server struct {
	coord      *coordinator.Coordinator
	verifier   identity.Verifier
	directory  identity.Directory
	realtime   http.Handler
	transports []string
	metrics    metrics.GatewayMetrics
}

func New(coord *coordinator.Coordinator, verifier identity.Verifier, directory identity.Directory, realtime http.Handler, transports []string, m metrics.GatewayMetrics) *Server {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Server{
		coord:      coord,
		verifier:   verifier,
		directory:  directory,
		realtime:   realtime,
		transports: transports,
		metrics:    m,
	}
}

// Handler builds the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/settings", s.instrumented("/api/v1/settings", s.requireUser(s.handleGetSettings)))
	mux.HandleFunc("GET /api/v1/status/{resource}", s.instrumented("/api/v1/status/{resource}", s.requireUser(s.handleGetStatus)))
	mux.HandleFunc("GET /api/v1/status/{resource}/{instance}", s.instrumented("/api/v1/status/{resource}/{instance}", s.requireUser(s.handleGetStatus)))
	mux.HandleFunc("PUT /api/v1/status/{resource}/{instance}", s.instrumented("/api/v1/status/{resource}/{instance}", s.requireUser(s.handleSetLock)))
	mux.HandleFunc("DELETE /api/v1/status/{resource}/{instance}", s.instrumented("/api/v1/status/{resource}/{instance}", s.requireUser(s.handleClearLock)))
	if s.realtime != nil {
		mux.Handle("GET /ws", s.realtime)
	}
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
		}
	}
}

type userHandler func(w http.ResponseWriter, r *http.Request, user *identity.User)

// requireUser authenticates the bearer token and passes the resolved
// user to the handler.
func (s *Server) requireUser(fn userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing credential", http.StatusUnauthorized)
			return
		}
		user, err := s.verifier.VerifyToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthenticated) {
				http.Error(w, "invalid credential", http.StatusUnauthorized)
				return
			}
			logging.Error(component, "token verification failed", "error", err)
			http.Error(w, "identity provider unavailable", http.StatusInternalServerError)
			return
		}
		fn(w, r, user)
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request, _ *identity.User) {
	writeJSON(w, http.StatusOK, map[string]any{"transports": s.transports})
}

// handleGetStatus reports whether someone else is editing. The owning
// user id is resolved to a display name; an unlocked pair answers a
// definite false rather than an error.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request, user *identity.User) {
	resource := r.PathValue("resource")
	instance := r.PathValue("instance")
	if resource == "" {
		http.Error(w, "missing resource", http.StatusBadRequest)
		return
	}

	lock, err := s.coord.QueryStatus(r.Context(), user.ID, resource, instance)
	if err != nil {
		http.Error(w, "failed to query lock status", http.StatusInternalServerError)
		return
	}
	if lock == nil {
		writeJSON(w, http.StatusOK, false)
		return
	}

	owner, err := s.lookupOwner(r.Context(), lock.Owner)
	if err != nil {
		logging.Error(component, "owner lookup failed", "user", lock.Owner, "resource", resource, "error", err)
		http.Error(w, "failed to resolve lock owner", http.StatusInternalServerError)
		return
	}
	if owner == nil {
		logging.Warn(component, "lock exists but owner unknown", "user", lock.Owner, "resource", resource, "instance", instance)
		writeJSON(w, http.StatusOK, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"editedBy": owner.DisplayName()})
}

func (s *Server) handleSetLock(w http.ResponseWriter, r *http.Request, user *identity.User) {
	resource := r.PathValue("resource")
	instance := r.PathValue("instance")

	// Request-API locks carry no connection and survive until explicitly
	// cleared.
	dec, err := s.coord.Acquire(r.Context(), user.ID, resource, instance, "")
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalid) {
			http.Error(w, "missing required parameters", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to set lock", http.StatusInternalServerError)
		return
	}
	if dec.Granted {
		writeJSON(w, http.StatusOK, true)
		return
	}
	switch dec.Reason {
	case coordinator.ReasonLocked, coordinator.ReasonUnknownHolder:
		http.Error(w, "record is already locked by another user", http.StatusConflict)
	case coordinator.ReasonForbidden:
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "record cannot be locked", http.StatusBadRequest)
	}
}

func (s *Server) handleClearLock(w http.ResponseWriter, r *http.Request, user *identity.User) {
	resource := r.PathValue("resource")
	instance := r.PathValue("instance")

	released, err := s.coord.Release(r.Context(), user.ID, resource, instance, "")
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalid) {
			http.Error(w, "missing required parameters", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to clear lock", http.StatusInternalServerError)
		return
	}
	// Clearing an absent lock is a no-op, not an error.
	msg := "lock released"
	if !released {
		msg = "no lock to release"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) lookupOwner(ctx context.Context, userID string) (*identity.User, error) {
	if s.directory == nil {
		return nil, nil
	}
	return s.directory.Lookup(ctx, userID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error(component, "encode response failed", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

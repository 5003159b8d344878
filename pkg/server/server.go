// Package server exposes the access engine over HTTP to the presentation
// layer. Three operations: global tier lookup, community access check,
// and cache invalidation after state-changing wallet actions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryb/gatekeeper/pkg/access"
	"github.com/cryb/gatekeeper/pkg/config"
	"github.com/cryb/gatekeeper/pkg/rules"
	"github.com/cryb/gatekeeper/pkg/snapshot"
)

// AccessController is the engine surface the server needs. Implemented by
// *access.Controller; tests substitute a stub.
type AccessController interface {
	GlobalAccess(ctx context.Context, addr common.Address) (rules.TierDefinition, error)
	CommunityAccess(ctx context.Context, addr common.Address, communityID string) (rules.AccessResult, error)
	AccessibleCommunities(ctx context.Context, addr common.Address) ([]string, error)
	Invalidate(addr common.Address)
}

// Server is the access engine's HTTP facade.
type Server struct {
	cfg        *config.Config
	controller AccessController
	mux        *http.ServeMux
	corsOrigin string
}

// New creates a new engine server.
func New(cfg *config.Config, controller AccessController) *Server {
	s := &Server{
		cfg:        cfg,
		controller: controller,
		mux:        http.NewServeMux(),
		corsOrigin: cfg.CORSOrigin,
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /access/global", s.handleGlobalAccess)
	s.mux.HandleFunc("GET /access/community/{communityID}", s.handleCommunityAccess)
	s.mux.HandleFunc("GET /access/communities", s.handleAccessibleCommunities)
	s.mux.HandleFunc("POST /access/invalidate", s.handleInvalidate)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.corsOrigin == "" {
		return s.mux
	}
	return s.corsMiddleware(s.mux)
}

// corsMiddleware wraps a handler with CORS headers for the configured origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Printf("Access engine listening on %s", s.cfg.ListenAddr)
	return srv.ListenAndServe()
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// GlobalAccessResponse is returned by GET /access/global.
type GlobalAccessResponse struct {
	Level       int                `json:"level"`
	Name        string             `json:"name"`
	Permissions []rules.Permission `json:"permissions"`
}

// GET /access/global?address=0x...
func (s *Server) handleGlobalAccess(w http.ResponseWriter, r *http.Request) {
	addr, ok := requireAddress(w, r)
	if !ok {
		return
	}

	tier, err := s.controller.GlobalAccess(r.Context(), addr)
	if err != nil {
		s.writeEngineError(w, addr, err)
		return
	}

	perms := tier.Permissions
	if perms == nil {
		perms = []rules.Permission{}
	}
	writeJSON(w, http.StatusOK, GlobalAccessResponse{
		Level:       tier.Level,
		Name:        tier.Name,
		Permissions: perms,
	})
}

// CommunityAccessResponse is returned by GET /access/community/{communityID}.
type CommunityAccessResponse struct {
	HasAccess     bool               `json:"has_access"`
	Tier          *TierResponse      `json:"tier,omitempty"`
	Permissions   []rules.Permission `json:"permissions"`
	FailedReasons []string           `json:"failed_reasons"`
}

// TierResponse is the wire shape of a resolved tier.
type TierResponse struct {
	Level int    `json:"level"`
	Name  string `json:"name"`
}

// GET /access/community/{communityID}?address=0x...
func (s *Server) handleCommunityAccess(w http.ResponseWriter, r *http.Request) {
	addr, ok := requireAddress(w, r)
	if !ok {
		return
	}
	communityID := r.PathValue("communityID")

	result, err := s.controller.CommunityAccess(r.Context(), addr, communityID)
	if err != nil {
		s.writeEngineError(w, addr, err)
		return
	}

	resp := CommunityAccessResponse{
		HasAccess:     result.HasAccess,
		Permissions:   result.Permissions,
		FailedReasons: result.FailedReasons,
	}
	if result.Tier != nil {
		resp.Tier = &TierResponse{Level: result.Tier.Level, Name: result.Tier.Name}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /access/communities?address=0x...
func (s *Server) handleAccessibleCommunities(w http.ResponseWriter, r *http.Request) {
	addr, ok := requireAddress(w, r)
	if !ok {
		return
	}

	ids, err := s.controller.AccessibleCommunities(r.Context(), addr)
	if err != nil {
		s.writeEngineError(w, addr, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"communities": ids})
}

// POST /access/invalidate?address=0x...
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	addr, ok := requireAddress(w, r)
	if !ok {
		return
	}

	s.controller.Invalidate(addr)
	w.WriteHeader(http.StatusNoContent)
}

// writeEngineError maps engine errors onto HTTP statuses. Upstream
// failures surface as 502/503 rather than denials: "can't verify" and
// "verified and denied" must stay distinguishable for the caller.
func (s *Server) writeEngineError(w http.ResponseWriter, addr common.Address, err error) {
	switch {
	case errors.Is(err, access.ErrUnknownCommunity):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, snapshot.ErrRateLimited):
		log.Printf("Rate limited checking %s: %v", addr.Hex(), err)
		writeError(w, http.StatusServiceUnavailable, "upstream rate limited, retry later")
	case errors.Is(err, snapshot.ErrUpstreamUnavailable):
		log.Printf("Upstream failure checking %s: %v", addr.Hex(), err)
		writeError(w, http.StatusBadGateway, "upstream unavailable, retry later")
	default:
		log.Printf("Error checking %s: %v", addr.Hex(), err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// requireAddress parses the address query parameter, writing a 400 on
// failure.
func requireAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.URL.Query().Get("address")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return common.Address{}, false
	}
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

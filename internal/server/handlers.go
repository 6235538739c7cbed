package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/opsline/failsafe/internal/actor"
	"github.com/opsline/failsafe/internal/audit"
	"github.com/opsline/failsafe/internal/engine"
	"github.com/opsline/failsafe/internal/scope"
	"github.com/opsline/failsafe/internal/token"
)

// transitionRequest is the JSON body of activate/deactivate calls.
type transitionRequest struct {
	Level  int               `json:"level"`
	Scope  string            `json:"scope"` // canonical kind:value encoding
	Reason string            `json:"reason"`
	Opts   map[string]string `json:"opts,omitempty"`
}

// transitionResponse distinguishes "fully activated", "activated with N
// failed sub-actions", and duplicate no-ops in the body; "failed to
// activate (no action taken)" arrives as a non-200.
type transitionResponse struct {
	Active    bool                    `json:"active"`
	Duplicate bool                    `json:"duplicate,omitempty"`
	Partial   bool                    `json:"partial,omitempty"`
	Switch    any                     `json:"switch,omitempty"`
	Failures  []engine.AdapterFailure `json:"failures,omitempty"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, false)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, true)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, deactivate bool) {
	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	ref, err := scope.Parse(body.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := engine.Request{
		Level:  scope.Level(body.Level),
		Scope:  ref,
		Reason: body.Reason,
		Opts:   body.Opts,
	}
	req.Actor, req.Token = actorFromRequest(r)

	var outcome *engine.Outcome
	if deactivate {
		outcome, err = s.cfg.Engine.Deactivate(r.Context(), req)
	} else {
		outcome, err = s.cfg.Engine.Activate(r.Context(), req)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{
		Active:    outcome.Active,
		Duplicate: outcome.Duplicate,
		Partial:   len(outcome.Failures) > 0,
		Switch:    outcome.Switch,
		Failures:  outcome.Failures,
	})
}

// statusFor maps the engine taxonomy onto the administrative surface.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidScopeForLevel):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotActive):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrActivationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// actorFromRequest identifies the caller. A bearer EmergencyToken marks
// a system actor; otherwise the identity headers describe a human.
func actorFromRequest(r *http.Request) (actor.Actor, string) {
	id := r.Header.Get("X-Actor-Id")

	auth := r.Header.Get("Authorization")
	if raw, ok := strings.CutPrefix(auth, "Bearer "); ok && strings.HasPrefix(raw, token.Prefix) {
		return actor.Actor{ID: id, Kind: actor.System}, raw
	}

	return actor.Actor{
		ID:    id,
		Roles: actor.ParseRoles(splitComma(r.Header.Get("X-Actor-Roles"))),
		Kind:  actor.Human,
	}, ""
}

type statusResponse struct {
	GlobalActive  bool             `json:"global_active"`
	Switches      any              `json:"switches"`
	Health        any              `json:"health,omitempty"`
	AlertFailures map[string]int64 `json:"alert_failures,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		GlobalActive: s.cfg.Store.GlobalActive(),
		Switches:     s.cfg.Store.ListActive(),
	}
	if s.cfg.Monitor != nil {
		resp.Health = s.cfg.Monitor.Last()
	}
	if s.cfg.Dispatcher != nil {
		resp.AlertFailures = s.cfg.Dispatcher.Failures()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:  audit.Action(q.Get("action")),
		Scope:   q.Get("scope"),
		Tenant:  q.Get("tenant"),
		ActorID: q.Get("actor"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		filter.From = t
	}

	result, err := audit.Query(s.cfg.AuditLog.Path(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

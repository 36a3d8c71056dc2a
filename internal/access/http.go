// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package access

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
)

// SubjectHeader carries the authenticated subject. It must be set by a
// trusted proxy; the handler does no authentication of its own.
const SubjectHeader = "X-Tripwarden-Subject"

// DecisionResponse is the JSON body returned by Handler.
type DecisionResponse struct {
	Authorized     bool   `json:"authorized"`
	Level          string `json:"level,omitempty"`
	Permission     string `json:"permission,omitempty"`
	IsOwner        bool   `json:"is_owner,omitempty"`
	IsCollaborator bool   `json:"is_collaborator,omitempty"`
	Visibility     string `json:"visibility,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
}

// NewDecisionResponse renders a decision for output.
func NewDecisionResponse(d AccessDecision) DecisionResponse {
	if !d.Authorized() {
		return DecisionResponse{Reason: d.DenialReason}
	}
	return DecisionResponse{
		Authorized:     true,
		Level:          d.Level.String(),
		Permission:     d.PermissionGranted.String(),
		IsOwner:        d.IsOwner,
		IsCollaborator: d.IsCollaborator,
		Visibility:     string(d.Visibility),
	}
}

// Handler answers GET ?trip=<id>&level=<level>&permission=<perm>&operation=<op>
// for the subject named in SubjectHeader. The status code follows HTTPStatus.
func Handler(guard GuardFunc, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := req.URL.Query()
		opts := []ContextOption{
			WithOperation(q.Get("operation")),
			WithSource(remoteIP(req), req.UserAgent()),
		}
		var resp DecisionResponse
		level, err := ParseLevel(q.Get("level"))
		if err == nil {
			var perm Permission
			perm, err = ParsePermission(q.Get("permission"))
			opts = append(opts, RequireLevel(level), RequirePermission(perm))
		}

		var decision AccessDecision
		if err == nil {
			var actx AccessContext
			actx, err = NewAccessContext(q.Get("trip"), req.Header.Get(SubjectHeader), opts...)
			if err == nil {
				decision, err = guard(req.Context(), actx)
			}
		}

		status := HTTPStatus(err, decision)
		if err != nil {
			resp.Error = http.StatusText(status)
		} else {
			resp = NewDecisionResponse(decision)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
			logger.Debug("write decision response", "error", encErr)
		}
	})
}

func remoteIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

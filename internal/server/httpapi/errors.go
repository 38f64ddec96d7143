package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
)

// errorClass maps a sentinel to its status and wire code. Order matters:
// the first match wins.
type errorClass struct {
	err    error
	status int
	code   string
	// detail exposes the wrapped message to the caller.
	detail bool
}

var errorClasses = []errorClass{
	{common.ErrMalformedRequest, http.StatusBadRequest, api.CodeMalformedRequest, true},
	{common.ErrValidation, http.StatusBadRequest, api.CodeValidation, true},
	{common.ErrInvalidToken, http.StatusBadRequest, api.CodeInvalidToken, false},
	{common.ErrUnauthenticated, http.StatusUnauthorized, api.CodeUnauthenticated, false},
	{common.ErrAuthFailed, http.StatusUnauthorized, api.CodeAuthFailed, false},
	{common.ErrWrongParty, http.StatusForbidden, api.CodeWrongParty, false},
	{common.ErrForbidden, http.StatusForbidden, api.CodeForbidden, false},
	{common.ErrIllegalTransition, http.StatusNotFound, api.CodeIllegalTransition, true},
	{common.ErrStateConflict, http.StatusNotFound, api.CodeStateConflict, false},
	{common.ErrNotFound, http.StatusNotFound, api.CodeNotFound, false},
	{common.ErrInviteExpired, http.StatusGone, api.CodeInviteExpired, false},
	{common.ErrAlreadyExists, http.StatusConflict, api.CodeAlreadyExists, false},
	{common.ErrConflict, http.StatusConflict, api.CodeConflict, false},
}

// classify returns the HTTP status and body for err.
func classify(err error) (int, api.Error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, api.Error{Code: api.CodeTooLarge, Message: "request body too large"}
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			msg := c.err.Error()
			if c.detail {
				msg = err.Error()
			}
			return c.status, api.Error{Code: c.code, Message: msg}
		}
	}
	return http.StatusInternalServerError, api.Error{Code: api.CodeInternal, Message: common.ErrInternal.Error()}
}

// writeError logs the full cause and replies with the class of err only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	log := requestLogger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(r.Context(), "request failed", "status", status, "error", err)
	} else {
		log.Info(r.Context(), "request rejected", "status", status, "code", body.Code, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

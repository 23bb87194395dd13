package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/pi-relay/internal/relay"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Values of Error.Code.
const (
	ErrCodeInvalidBody    = "invalid_body"
	ErrCodeBodyTooLarge   = "body_too_large"
	ErrCodeInvalidCommand = "invalid_command"
	ErrCodeNoPhoto        = "no_photo"
	ErrCodeInternal       = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeBodyError reports a request body that could not be decoded. Bodies
// cut off by the size limit get 413, anything else 400.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBodyTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, ErrCodeInvalidBody, "invalid JSON body")
}

// writeCommandError maps a router error to a response. Caller mistakes are
// 400 with the message the dashboards expect; the rest is logged and 500.
func (s *Server) writeCommandError(w http.ResponseWriter, command string, err error) {
	if relay.IsValidationError(err) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidCommand, "Invalid command")
		return
	}
	s.logger.Error("command failed", "command", command, "error", err)
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "command failed")
}

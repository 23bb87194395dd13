package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/pi-relay/internal/audit"
	"github.com/nerrad567/pi-relay/internal/registry"
	"github.com/nerrad567/pi-relay/internal/relay"
)

// isoMillis matches the millisecond UTC timestamps browsers produce.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func nowISO() string {
	return time.Now().UTC().Format(isoMillis)
}

// CommandRequest is the body of POST /send-command.
type CommandRequest struct {
	Command string `json:"command"`
	PiID    string `json:"piId"`
}

// CaptureRequest is the body of POST /take-photo.
type CaptureRequest struct {
	PiID string `json:"piId"`
}

// CommandResponse acknowledges an accepted LED command.
type CommandResponse struct {
	Success bool   `json:"success"`
	Command string `json:"command"`
}

// PhotoResponse is the body of GET /latest-photo.
type PhotoResponse struct {
	Success   bool            `json:"success"`
	Photo     json.RawMessage `json:"photo"`
	Timestamp json.RawMessage `json:"timestamp"`
	PiID      string          `json:"piId"`
}

// decodeOptionalJSON decodes a request body into v. An empty body is not
// an error, so bodiless POSTs from older dashboards still work.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleListPis returns every registered, connected device.
func (s *Server) handleListPis(w http.ResponseWriter, _ *http.Request) {
	pis := s.registry.ListActive()
	if pis == nil {
		pis = []registry.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pis": pis})
}

// handleLEDShorthand returns a handler issuing a fixed command.
func (s *Server) handleLEDShorthand(command string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CaptureRequest
		//nolint:errcheck // body is optional for shorthand routes
		decodeOptionalJSON(r, &req)
		s.issueCommand(w, r, command, req.PiID)
	}
}

// handleSendCommand issues the command in the request body.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	s.issueCommand(w, r, req.Command, req.PiID)
}

func (s *Server) issueCommand(w http.ResponseWriter, r *http.Request, command, piID string) {
	res, err := s.router.Command(r.Context(), relay.CommandRequest{
		Command:   command,
		DeviceID:  piID,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		Source:    audit.SourceDashboard,
	})
	if err != nil {
		s.writeCommandError(w, command, err)
		return
	}

	writeJSON(w, http.StatusOK, CommandResponse{
		Success: true,
		Command: fmt.Sprintf("LED %s", strings.ToUpper(res.Command.String())),
	})
}

// handleTakePhoto asks devices to capture.
func (s *Server) handleTakePhoto(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	s.router.RequestCapture(r.Context(), req.PiID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Photo command sent",
	})
}

// handleLatestPhoto returns the most recent capture.
func (s *Server) handleLatestPhoto(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.captures.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNoPhoto, "No photo available")
		return
	}
	writeJSON(w, http.StatusOK, PhotoResponse{
		Success:   true,
		Photo:     p.Data,
		Timestamp: p.Timestamp,
		PiID:      p.DeviceID,
	})
}

// handleLEDStatus returns the authoritative LED state.
func (s *Server) handleLEDStatus(w http.ResponseWriter, _ *http.Request) {
	v, updatedAt := s.state.Snapshot()
	var updated any
	if !updatedAt.IsZero() {
		updated = updatedAt.UTC().Format(isoMillis)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    v.String(),
		"updatedAt": updated,
	})
}

// handleLEDEvents returns the audit trail, most recent first.
func (s *Server) handleLEDEvents(w http.ResponseWriter, _ *http.Request) {
	events, count := s.audit.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  count,
	})
}

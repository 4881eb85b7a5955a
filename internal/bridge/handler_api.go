package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"ArduinoLink/internal/device"
	"ArduinoLink/internal/model"
	"ArduinoLink/internal/permission"
	"ArduinoLink/internal/session"
	"ArduinoLink/internal/util"
)

// handleConnect locates the device and requests permission. The session opens
// asynchronously; clients follow progress on /ws or /api/status.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	criteria := s.criteria
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read connect request", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		var req model.ConnectRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid connect request", http.StatusBadRequest)
			return
		}
		switch req.Match {
		case "":
		case "first":
			criteria = device.MatchFirst()
		case "exact":
			criteria = device.MatchExact(req.VendorID, req.ProductID)
		default:
			http.Error(w, "unknown match "+req.Match, http.StatusBadRequest)
			return
		}
	}

	token, err := s.ctl.Connect(criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"token": string(token)})
}

// handleDisconnect closes the open session, if any.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.ctl.Disconnect(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

// handleSend writes a command to the device.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer func() {
		if cerr := r.Body.Close(); cerr != nil {
			util.Warn("[bridge] failed to close send body: %v", cerr)
		}
	}()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read command", http.StatusBadRequest)
		return
	}
	cmd, err := s.parser.DecodeCommand(string(body))
	if err != nil {
		http.Error(w, "invalid command: "+err.Error(), http.StatusBadRequest)
		return
	}
	n, err := s.ctl.SendString(cmd.Command, time.Duration(cmd.TimeoutMs)*time.Millisecond)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": n})
}

// handleStatus reports whether a session is open.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

// handleLatest retrieves the latest journaled reading.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	reading, ok, err := s.source.Latest()
	if err != nil {
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no data available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleReadings returns the last n readings, oldest first.
func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	readings, err := s.source.Recent(n)
	if err != nil {
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []model.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// statusFor maps link errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyOpen), errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrWriteTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, permission.ErrPermissionDenied):
		return http.StatusForbidden
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Warn("[bridge] failed to write response: %v", err)
	}
}

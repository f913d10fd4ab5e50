package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jakopako/livemon/internal/challenge"
	"github.com/jakopako/livemon/internal/types"
	"github.com/tidwall/gjson"
)

const (
	maxBodySize    = 1 << 16
	wsBuffer       = 256
	wsWriteTimeout = 2 * time.Second
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, success bool, message string) {
	writeJSON(w, code, map[string]any{
		"success": success,
		"message": message,
	})
}

// unixTime returns t as fractional seconds since the epoch.
func unixTime(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func readBody(r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil || !gjson.ValidBytes(body) {
		return nil, false
	}
	return body, true
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(panelHTML)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if s.busy() {
		writeMessage(w, http.StatusBadRequest, false, "monitoring is already running")
		return
	}
	body, ok := readBody(r)
	username := ""
	if ok {
		username = strings.TrimSpace(gjson.GetBytes(body, "username").String())
	}
	if username == "" {
		writeMessage(w, http.StatusBadRequest, false, "missing username parameter")
		return
	}
	if s.factory == nil {
		writeMessage(w, http.StatusBadRequest, false, "starting collections is not enabled")
		return
	}
	runner, err := s.factory(username)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, false, err.Error())
		return
	}
	if !s.launch(username, runner) {
		writeMessage(w, http.StatusBadRequest, false, "monitoring is already running")
		return
	}
	s.logger.Info("collection started", slog.String("username", username))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("started monitoring @%s", username),
		"username": username,
	})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	runner := s.current()
	if runner == nil || !s.busy() {
		writeMessage(w, http.StatusBadRequest, false, "no collection is running")
		return
	}
	runner.Stop()
	s.logger.Info("collection stop requested")
	writeMessage(w, http.StatusOK, true, "monitoring stopped")
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	var st types.MonitorStatus
	if runner := s.current(); runner != nil {
		st = runner.Status()
	}
	st.IsRunning = s.busy()
	if !st.IsRunning {
		st.Username = nil
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) interactions(w http.ResponseWriter, r *http.Request) {
	runner := s.current()
	if runner == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"interactions": []types.Interaction{},
			"message":      "collector not started",
		})
		return
	}
	items := runner.Interactions()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"interactions": items,
		"count":        len(items),
		"timestamp":    unixTime(time.Now()),
	})
}

func (s *Server) gate() *challenge.Gate {
	if runner := s.current(); runner != nil {
		return runner.Gate()
	}
	return nil
}

func (s *Server) captcha(w http.ResponseWriter, r *http.Request) {
	var (
		image string
		ok    bool
	)
	if g := s.gate(); g != nil {
		image, ok = g.Image()
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "captcha image is not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"image":     image,
		"timestamp": unixTime(time.Now()),
	})
}

func (s *Server) captchaStatus(w http.ResponseWriter, r *http.Request) {
	var st challenge.Status
	if g := s.gate(); g != nil {
		st = g.Status()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) captchaClick(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(r)
	x, y := gjson.GetBytes(body, "x"), gjson.GetBytes(body, "y")
	if !ok || x.Type != gjson.Number || y.Type != gjson.Number {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing coordinates"})
		return
	}
	g := s.gate()
	if g == nil || !s.busy() {
		writeMessage(w, http.StatusBadRequest, false, "collector is not running")
		return
	}
	s.logger.Info("received captcha click", slog.Float64("x", x.Float()), slog.Float64("y", y.Float()))
	err := g.Submit(r.Context(), x.Float(), y.Float())
	switch {
	case err == nil:
		writeMessage(w, http.StatusOK, true, "click executed, waiting for verification")
	case errors.Is(err, challenge.ErrNotPending):
		writeMessage(w, http.StatusConflict, false, err.Error())
	default:
		s.logger.Error("captcha click failed", slog.String("err", err.Error()))
		writeMessage(w, http.StatusInternalServerError, false, err.Error())
	}
}

// feed streams the interactions of the current collection as JSON text
// messages. The socket is closed normally when the collection ends.
func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	runner := s.current()
	if runner == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "collector not started"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("err", err.Error()))
		return
	}
	defer conn.Close()
	items, cancel := runner.Subscribe(wsBuffer)
	defer cancel()

	// reads only detect the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case i, ok := <-items:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "collection finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(i); err != nil {
				s.logger.Debug("websocket write failed", slog.String("err", err.Error()))
				return
			}
		}
	}
}

package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/jakopako/livemon/internal/session"
	"github.com/jakopako/livemon/internal/snapshot"
	"github.com/jakopako/livemon/internal/types"
)

// Record is one line of JSON output.
type Record struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

const (
	KindSnapshot    = "snapshot"
	KindInteraction = "interaction"
	KindSession     = "session"
	KindError       = "error"
)

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	w      io.Writer
	logger *slog.Logger
}

func NewJSONWriter(w io.Writer, logger *slog.Logger) *JSONWriter {
	return &JSONWriter{
		w:      w,
		logger: logger.With(slog.String("writer", string(JSON_WRITER_TYPE))),
	}
}

func (j *JSONWriter) write(kind string, data any) {
	// html escaping would mangle chat content like "<3"
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(Record{Kind: kind, Data: data}); err != nil {
		j.logger.Error(fmt.Sprintf("error while encoding %s: %v", kind, err))
		return
	}
	if _, err := j.w.Write(buffer.Bytes()); err != nil {
		j.logger.Error(fmt.Sprintf("error while writing %s: %v", kind, err))
	}
}

type snapshotRecord struct {
	*snapshot.Snapshot
	Healthy        bool                   `json:"is_healthy"`
	Class          string                 `json:"class"`
	HasInitialData bool                   `json:"has_initial_data"`
	Room           *snapshot.LiveRoomInfo `json:"room,omitempty"`
}

func (j *JSONWriter) WriteSnapshot(s *snapshot.Snapshot) {
	r := snapshotRecord{
		Snapshot:       s,
		Healthy:        s.IsHealthy(),
		Class:          s.Classify().String(),
		HasInitialData: s.HasInitialData(),
	}
	if info := s.RoomInfo(); !info.IsZero() {
		r.Room = &info
	}
	j.write(KindSnapshot, r)
}

func (j *JSONWriter) WriteInteraction(i types.Interaction) {
	j.write(KindInteraction, i)
}

type sessionRecord struct {
	session.Stats
	HealthRate float64 `json:"health_rate"`
	LastState  string  `json:"last_state,omitempty"`
}

func (j *JSONWriter) WriteSession(s *session.Session) {
	st := s.Stats()
	r := sessionRecord{Stats: st, HealthRate: st.HealthRate()}
	if last := s.Last(); last != nil {
		r.LastState = last.Classify().String()
	}
	j.write(KindSession, r)
}

func (j *JSONWriter) WriteError(err error) {
	j.write(KindError, map[string]string{"error": err.Error()})
}

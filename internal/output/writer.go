// Package output provides the interface and configuration and implementation for writers
package output

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jakopako/livemon/internal/log"
	"github.com/jakopako/livemon/internal/session"
	"github.com/jakopako/livemon/internal/snapshot"
	"github.com/jakopako/livemon/internal/types"
)

// Writer defines the interface for all writers that are responsible
// for presenting the collected data. Writers are used by a single goroutine.
type Writer interface {
	WriteSnapshot(s *snapshot.Snapshot)
	WriteInteraction(i types.Interaction)
	// WriteSession writes the final summary of a run.
	WriteSession(s *session.Session)
	// WriteError reports the fault that ended a run.
	WriteError(err error)
}

// WriterConfig defines the necessary paramters to make a new writer.
type WriterConfig struct {
	Type WriterType `yaml:"type" env:"OUTPUT_FORMAT" env-default:"text"`
}

// WriterType encapsulates the type of a writer
// See below constants for possible types
type WriterType string

const (
	TEXT_WRITER_TYPE WriterType = "text"
	JSON_WRITER_TYPE WriterType = "json"
)

// NewWriter returns a new writer depending on the writer type
func NewWriter(wc *WriterConfig, w io.Writer, logger *slog.Logger) (Writer, error) {
	logger = log.OrDiscard(logger)
	switch wc.Type {
	case TEXT_WRITER_TYPE, "":
		return NewTextWriter(w, logger), nil
	case JSON_WRITER_TYPE:
		return NewJSONWriter(w, logger), nil
	default:
		return nil, fmt.Errorf("writer of type '%s' not implemented", wc.Type)
	}
}

// Discard is a Writer that drops everything.
type Discard struct{}

func (Discard) WriteSnapshot(*snapshot.Snapshot)   {}
func (Discard) WriteInteraction(types.Interaction) {}
func (Discard) WriteSession(*session.Session)      {}
func (Discard) WriteError(error)                   {}

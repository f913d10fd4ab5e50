// Package snapshot turns inspection results into immutable point-in-time
// observations of the live room page.
package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jakopako/livemon/internal/inspect"
)

// Snapshot is a point-in-time observation of the page. It must not be
// modified after Build returned it.
type Snapshot struct {
	Timestamp       time.Time       `json:"timestamp"`
	URL             string          `json:"url"`
	Title           string          `json:"title"`
	HasVideo        bool            `json:"has_video"`
	VideoCount      int             `json:"video_count"`
	ElementCount    int             `json:"element_count"`
	HTMLSize        int             `json:"html_size"`
	HasErrorMessage bool            `json:"has_error_message"`
	HasPageError    bool            `json:"has_page_error"`
	HasCaptcha      bool            `json:"has_captcha"`
	IsLiveEnded     bool            `json:"is_live_ended"`
	HasLiveContent  bool            `json:"has_live_content"`
	ViewerCount     *int            `json:"viewer_count"`
	InitialData     json.RawMessage `json:"-"`
	BodyTextPreview string          `json:"body_text_preview"`
}

// Class is the single classification of a snapshot.
type Class int

const (
	ClassHealthy Class = iota
	ClassUnhealthy
	ClassEnded
	ClassChallenge
	ClassPageError
)

func (c Class) String() string {
	switch c {
	case ClassHealthy:
		return "healthy"
	case ClassUnhealthy:
		return "unhealthy"
	case ClassEnded:
		return "ended"
	case ClassChallenge:
		return "challenge"
	case ClassPageError:
		return "page_error"
	}
	return "unknown"
}

// Build creates a snapshot from an inspection result.
func Build(status inspect.StatusRecord, htmlSize int, initialData json.RawMessage, at time.Time) *Snapshot {
	return &Snapshot{
		Timestamp:       at,
		URL:             status.URL,
		Title:           status.Title,
		HasVideo:        status.HasVideo,
		VideoCount:      status.VideoCount,
		ElementCount:    status.ElementCount,
		HTMLSize:        htmlSize,
		HasErrorMessage: status.HasErrorMessage,
		HasPageError:    status.HasPageError,
		HasCaptcha:      status.HasCaptcha,
		IsLiveEnded:     status.IsLiveEnded,
		HasLiveContent:  status.HasLiveContent,
		ViewerCount:     status.ViewerCount,
		InitialData:     initialData,
		BodyTextPreview: status.BodyTextPreview,
	}
}

// IsHealthy reports whether the page is usable. An ended live counts as
// healthy since the page itself is fine.
func (s *Snapshot) IsHealthy() bool {
	if s.HasCaptcha || s.HasPageError {
		return false
	}
	if s.IsLiveEnded {
		return true
	}
	return !s.HasErrorMessage && s.HasVideo
}

// Classify returns the class that decides how collection proceeds. A page
// error outranks a challenge.
func (s *Snapshot) Classify() Class {
	switch {
	case s.HasPageError:
		return ClassPageError
	case s.HasCaptcha:
		return ClassChallenge
	case s.IsLiveEnded:
		return ClassEnded
	case s.IsHealthy():
		return ClassHealthy
	}
	return ClassUnhealthy
}

func (s *Snapshot) HasInitialData() bool {
	return len(s.InitialData) > 0 && string(s.InitialData) != "null"
}

// RoomInfo parses the room metadata embedded in the initial data.
func (s *Snapshot) RoomInfo() LiveRoomInfo {
	if !s.HasInitialData() {
		return LiveRoomInfo{}
	}
	return ParseLiveRoomInfo(s.InitialData)
}

// An Inspector produces inspection reports.
type Inspector interface {
	Inspect(ctx context.Context) (inspect.Report, error)
}

// Builder takes snapshots through an Inspector.
type Builder struct {
	inspector Inspector
	now       func() time.Time
}

func NewBuilder(i Inspector) *Builder {
	return &Builder{inspector: i, now: time.Now}
}

// WithClock replaces the time source used for snapshot timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Take inspects the page and builds a snapshot.
func (b *Builder) Take(ctx context.Context) (*Snapshot, error) {
	r, err := b.inspector.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	return Build(r.Status, r.HTMLSize, r.InitialData, b.now()), nil
}

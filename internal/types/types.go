// Package types defines shared types used across the application.
package types

import (
	"strings"
	"time"
)

// InteractionType is the kind of an on-page interaction event.
type InteractionType string

const (
	InteractionTypeChat   InteractionType = "chat"
	InteractionTypeGift   InteractionType = "gift"
	InteractionTypeLike   InteractionType = "like"
	InteractionTypeFollow InteractionType = "follow"
	InteractionTypeShare  InteractionType = "share"
	InteractionTypeJoin   InteractionType = "join"
	InteractionTypeOther  InteractionType = "other"
)

// InteractionTypes lists every known type, in display order.
var InteractionTypes = []InteractionType{
	InteractionTypeChat,
	InteractionTypeGift,
	InteractionTypeLike,
	InteractionTypeFollow,
	InteractionTypeShare,
	InteractionTypeJoin,
	InteractionTypeOther,
}

// ParseInteractionType normalises a type string reported by the page.
// Unknown values become InteractionTypeOther.
func ParseInteractionType(s string) InteractionType {
	t := InteractionType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range InteractionTypes {
		if t == known {
			return t
		}
	}
	return InteractionTypeOther
}

// UnmarshalText makes unknown types decode as InteractionTypeOther.
func (t *InteractionType) UnmarshalText(b []byte) error {
	*t = ParseInteractionType(string(b))
	return nil
}

// Interaction is a single chat, gift or activity event observed on the live page.
type Interaction struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      InteractionType `json:"type"`
	Username  string          `json:"username"`
	Content   string          `json:"content"`
}

// MonitorStatus represents the state of the collector as reported to the control panel.
type MonitorStatus struct {
	IsRunning        bool       `json:"is_running"`
	Username         *string    `json:"username"`
	SessionID        string     `json:"session_id,omitempty"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	TotalSnapshots   int        `json:"total_snapshots"`
	HealthySnapshots int        `json:"healthy_snapshots"`
	ErrorSnapshots   int        `json:"error_snapshots"`
	Interactions     int        `json:"interactions"`
}

// Package session aggregates the snapshots of one monitoring run.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jakopako/livemon/internal/snapshot"
)

// Session is safe for concurrent use: the collector appends while status
// readers observe it.
type Session struct {
	ID        string
	Username  string
	LiveURL   string
	StartTime time.Time

	mu        sync.RWMutex
	endTime   *time.Time
	snapshots []*snapshot.Snapshot
	healthy   int
	errors    int
}

// Stats is a consistent copy of the session counters.
type Stats struct {
	ID               string     `json:"session_id"`
	Username         string     `json:"username"`
	LiveURL          string     `json:"live_url"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	TotalSnapshots   int        `json:"total_snapshots"`
	HealthySnapshots int        `json:"healthy_snapshots"`
	ErrorSnapshots   int        `json:"error_snapshots"`
}

// Duration is the elapsed run time, up to now for an unfinished session.
func (s Stats) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// HealthRate is the share of healthy snapshots in percent.
func (s Stats) HealthRate() float64 {
	if s.TotalSnapshots == 0 {
		return 0
	}
	return float64(s.HealthySnapshots) / float64(s.TotalSnapshots) * 100
}

func New(username, liveURL string, start time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Username:  username,
		LiveURL:   liveURL,
		StartTime: start,
	}
}

// AddSnapshot appends s and updates the counters.
func (s *Session) AddSnapshot(snap *snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	if snap.IsHealthy() {
		s.healthy++
	} else {
		s.errors++
	}
}

// Finish sets the end time. Calling it again overwrites the end time.
func (s *Session) Finish(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTime = &at
}

func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		ID:               s.ID,
		Username:         s.Username,
		LiveURL:          s.LiveURL,
		StartTime:        s.StartTime,
		TotalSnapshots:   len(s.snapshots),
		HealthySnapshots: s.healthy,
		ErrorSnapshots:   s.errors,
	}
	if s.endTime != nil {
		end := *s.endTime
		st.EndTime = &end
	}
	return st
}

// Snapshots returns a copy of the recorded snapshots in order.
func (s *Session) Snapshots() []*snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*snapshot.Snapshot(nil), s.snapshots...)
}

// Last returns the most recent snapshot or nil.
func (s *Session) Last() *snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return nil
	}
	return s.snapshots[len(s.snapshots)-1]
}

func (s *Session) EndTime() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endTime == nil {
		return time.Time{}, false
	}
	return *s.endTime, true
}

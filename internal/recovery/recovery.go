// Package recovery decides how a collection cycle reacts to the observed page
// state: error pages are reloaded a bounded number of times, verification
// challenges are handed to a resolver, everything else is recorded.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakopako/livemon/internal/challenge"
	"github.com/jakopako/livemon/internal/log"
	"github.com/jakopako/livemon/internal/snapshot"
)

// ErrPageErrorExhausted is reported when the error page survived every reload.
var ErrPageErrorExhausted = errors.New("page error persisted after the maximum number of reloads")

type State int

const (
	StateInspecting State = iota
	StateRefreshing
	StateAwaitingChallengeResolution
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInspecting:
		return "inspecting"
	case StateRefreshing:
		return "refreshing"
	case StateAwaitingChallengeResolution:
		return "awaiting_challenge_resolution"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type Outcome int

const (
	OutcomeHealthy Outcome = iota
	OutcomeUnhealthy
	OutcomeEnded
	OutcomePageErrorExhausted
	OutcomeChallengeUnresolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHealthy:
		return "healthy"
	case OutcomeUnhealthy:
		return "unhealthy"
	case OutcomeEnded:
		return "ended"
	case OutcomePageErrorExhausted:
		return "page_error_exhausted"
	case OutcomeChallengeUnresolved:
		return "challenge_unresolved"
	}
	return "unknown"
}

// Result is the outcome of one cycle. Snapshot is the last snapshot taken
// and may be one that was not recorded.
type Result struct {
	Snapshot *snapshot.Snapshot
	Outcome  Outcome
	// Retries is the number of reloads performed for the last error streak.
	Retries int
}

// Continue reports whether collection should go on.
func (r Result) Continue() bool {
	return r.Outcome == OutcomeHealthy
}

// Err returns the error describing a stopping outcome, if there is one.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomePageErrorExhausted:
		return ErrPageErrorExhausted
	case OutcomeChallengeUnresolved:
		return challenge.ErrTimeout
	}
	return nil
}

// Transition is a state change reported to observers.
type Transition struct {
	From, To State
	Retries  int
}

type Snapshotter interface {
	Take(ctx context.Context) (*snapshot.Snapshot, error)
}

// A Refresher reloads the page and reinstalls the capture hooks.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// A Resolver blocks until a challenge was resolved. It returns
// challenge.ErrTimeout if the resolution window elapsed.
type Resolver interface {
	Resolve(ctx context.Context, timeout time.Duration) error
}

type Recorder interface {
	Record(s *snapshot.Snapshot)
}

type Config struct {
	MaxRetries           int
	RefreshSettleDelay   time.Duration
	ChallengeTimeout     time.Duration
	ChallengeSettleDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:           3,
		RefreshSettleDelay:   5 * time.Second,
		ChallengeTimeout:     5 * time.Minute,
		ChallengeSettleDelay: 3 * time.Second,
	}
}

// Policy runs collection cycles. It is owned by a single goroutine.
type Policy struct {
	cfg       Config
	snapshots Snapshotter
	refresher Refresher
	resolver  Resolver
	recorder  Recorder
	observers []func(Transition)
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger

	state   State
	retries int
}

type Option func(*Policy)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = log.OrDiscard(logger)
	}
}

// WithSleep replaces the function used for settle delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = sleep
	}
}

// OnTransition registers an observer for state changes.
func OnTransition(f func(Transition)) Option {
	return func(p *Policy) {
		p.observers = append(p.observers, f)
	}
}

func New(cfg Config, s Snapshotter, ref Refresher, res Resolver, rec Recorder, opts ...Option) *Policy {
	p := &Policy{
		cfg:       cfg,
		snapshots: s,
		refresher: ref,
		resolver:  res,
		recorder:  rec,
		sleep:     Sleep,
		logger:    log.Discard(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With(slog.String("component", "recovery"))
	return p
}

func (p *Policy) State() State {
	return p.state
}

// Retries is the current page-error retry counter.
func (p *Policy) Retries() int {
	return p.retries
}

func (p *Policy) transition(to State) {
	if p.state == to {
		return
	}
	t := Transition{From: p.state, To: to, Retries: p.retries}
	p.state = to
	p.logger.Debug("state change", slog.String("from", t.From.String()), slog.String("to", t.To.String()))
	for _, o := range p.observers {
		o(t)
	}
}

// Cycle takes snapshots until the page is in a recordable state or
// collection has to stop. Errors are faults of the browser or the context;
// stopping outcomes are reported through the Result.
func (p *Policy) Cycle(ctx context.Context) (Result, error) {
	for {
		p.transition(StateInspecting)
		s, err := p.snapshots.Take(ctx)
		if err != nil {
			return Result{Retries: p.retries}, err
		}

		if s.HasPageError {
			if p.retries >= p.cfg.MaxRetries {
				p.logger.Error("page error persists, giving up", slog.Int("retries", p.retries))
				p.transition(StateStopped)
				return Result{Snapshot: s, Outcome: OutcomePageErrorExhausted, Retries: p.retries}, nil
			}
			p.retries++
			p.logger.Warn("page error detected, reloading",
				slog.Int("attempt", p.retries), slog.Int("max", p.cfg.MaxRetries))
			p.transition(StateRefreshing)
			if err := p.refresher.Refresh(ctx); err != nil {
				return Result{Snapshot: s, Retries: p.retries}, fmt.Errorf("refresh after page error: %w", err)
			}
			if err := p.sleep(ctx, p.cfg.RefreshSettleDelay); err != nil {
				return Result{Snapshot: s, Retries: p.retries}, err
			}
			continue
		}
		p.retries = 0

		if s.HasCaptcha {
			p.transition(StateAwaitingChallengeResolution)
			err := p.resolver.Resolve(ctx, p.cfg.ChallengeTimeout)
			if errors.Is(err, challenge.ErrTimeout) {
				p.transition(StateStopped)
				return Result{Snapshot: s, Outcome: OutcomeChallengeUnresolved}, nil
			}
			if err != nil {
				return Result{Snapshot: s}, fmt.Errorf("resolve challenge: %w", err)
			}
			p.logger.Info("challenge resolved, re-inspecting")
			if err := p.sleep(ctx, p.cfg.ChallengeSettleDelay); err != nil {
				return Result{Snapshot: s}, err
			}
			continue
		}

		p.recorder.Record(s)
		if s.IsLiveEnded {
			p.logger.Info("live has ended")
			p.transition(StateStopped)
			return Result{Snapshot: s, Outcome: OutcomeEnded}, nil
		}
		if !s.IsHealthy() {
			p.logger.Warn("page is unhealthy",
				slog.Bool("has_video", s.HasVideo), slog.Bool("has_error_message", s.HasErrorMessage))
			p.transition(StateStopped)
			return Result{Snapshot: s, Outcome: OutcomeUnhealthy}, nil
		}
		p.transition(StateRecording)
		return Result{Snapshot: s, Outcome: OutcomeHealthy}, nil
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package collector orchestrates a monitoring run: it launches the browser,
// opens the live room, runs recovery cycles at the collect interval and
// drains captured interactions between them.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jakopako/livemon/internal/browser"
	"github.com/jakopako/livemon/internal/challenge"
	"github.com/jakopako/livemon/internal/config"
	"github.com/jakopako/livemon/internal/inspect"
	"github.com/jakopako/livemon/internal/interaction"
	"github.com/jakopako/livemon/internal/log"
	"github.com/jakopako/livemon/internal/metrics"
	"github.com/jakopako/livemon/internal/output"
	"github.com/jakopako/livemon/internal/recovery"
	"github.com/jakopako/livemon/internal/session"
	"github.com/jakopako/livemon/internal/snapshot"
	"github.com/jakopako/livemon/internal/types"
)

const DefaultBufferSize = 1000

// Collector runs a single monitoring session. Only the goroutine executing
// Run touches the browser; every other method is safe for concurrent use.
type Collector struct {
	cfg      config.MonitorConfig
	launcher browser.Launcher
	writer   output.Writer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	gate     *challenge.Gate
	feed     *feed
	sleep    func(ctx context.Context, d time.Duration) error

	started  atomic.Bool
	running  atomic.Bool
	stopping atomic.Bool

	mu      sync.RWMutex
	cancel  context.CancelFunc
	session *session.Session
	outcome *recovery.Outcome
}

type Option func(*Collector)

func WithWriter(w output.Writer) Option {
	return func(c *Collector) {
		c.writer = w
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = log.OrDiscard(logger)
	}
}

// WithBufferSize sets how many recent interactions are kept for Interactions.
func WithBufferSize(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.feed = newFeed(n)
		}
	}
}

// WithSleep replaces the function used for every wait of the run.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Collector) {
		c.sleep = sleep
	}
}

// New returns a collector for cfg. cfg is copied and never modified.
func New(cfg config.MonitorConfig, launcher browser.Launcher, opts ...Option) *Collector {
	c := &Collector{
		cfg:      cfg,
		launcher: launcher,
		writer:   output.Discard{},
		logger:   log.Discard(),
		feed:     newFeed(DefaultBufferSize),
		sleep:    recovery.Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With(slog.String("component", "collector"), slog.String("username", cfg.Username))
	c.gate = challenge.NewGate(c.logger)
	return c
}

// Run monitors the live room until the configured duration elapsed, Stop is
// called, ctx is cancelled or the page state ends collection.
func (c *Collector) Run(ctx context.Context) error {
	return c.run(ctx, false)
}

// RunSingle performs exactly one collection cycle.
func (c *Collector) RunSingle(ctx context.Context) error {
	return c.run(ctx, true)
}

// Stop asks a running collection to halt. The run observes the request at its
// next suspension point and still writes its summary.
func (c *Collector) Stop() {
	c.stopping.Store(true)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Collector) run(parent context.Context, single bool) (err error) {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	if c.stopping.Load() {
		cancel()
	}

	c.running.Store(true)
	defer c.running.Store(false)
	c.metrics.SetRunning(true)
	defer c.metrics.SetRunning(false)
	defer c.feed.close()

	sess := session.New(c.cfg.Username, c.cfg.LiveURL, time.Now())
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	logger := c.logger.With(slog.String("session", sess.ID))
	logger.Info("starting live collection",
		slog.String("url", c.cfg.LiveURL),
		slog.Duration("duration", c.cfg.Duration),
		slog.Duration("interval", c.cfg.CollectInterval),
		slog.Bool("single", single))

	defer func() {
		if err != nil && ctx.Err() != nil {
			logger.Warn("collection interrupted", slog.String("err", err.Error()))
			err = nil
		}
		sess.Finish(time.Now())
		if err != nil {
			var ce *Error
			if errors.As(err, &ce) {
				c.metrics.ObserveFault(string(ce.Phase))
			}
			logger.Error("collection failed", slog.String("err", err.Error()))
			c.writer.WriteError(err)
		}
		c.writer.WriteSession(sess)
		st := sess.Stats()
		logger.Info("collection finished",
			slog.Int("snapshots", st.TotalSnapshots),
			slog.Int("healthy", st.HealthySnapshots),
			slog.Int("errors", st.ErrorSnapshots),
			slog.Int("interactions", c.feed.count()))
	}()

	b, err := c.launcher.Launch(ctx)
	if err != nil {
		return &Error{Phase: PhaseLaunch, Err: err}
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Warn("failed to close browser", slog.String("err", cerr.Error()))
		}
	}()

	if err := c.visit(ctx, b, logger); err != nil {
		return &Error{Phase: PhaseVisit, Err: err}
	}
	stream := interaction.NewStream(b, logger)
	if err := stream.Install(ctx); err != nil {
		if browser.IsSessionInvalid(err) {
			return &Error{Phase: PhaseVisit, Err: err}
		}
		logger.Warn("interaction capture not installed", slog.String("err", err.Error()))
	}

	policy := recovery.New(recoveryConfig(c.cfg.Recovery),
		snapshot.NewBuilder(inspect.New(b, inspect.WithLogger(logger))),
		&refresher{browser: b, stream: stream, logger: logger},
		&resolver{gate: c.gate, browser: b, metrics: c.metrics},
		recorderFunc(func(s *snapshot.Snapshot) {
			sess.AddSnapshot(s)
			c.metrics.ObserveSnapshot(s)
			c.writer.WriteSnapshot(s)
		}),
		recovery.WithLogger(logger),
		recovery.WithSleep(c.sleep),
		recovery.OnTransition(c.observeTransition),
	)

	if err := c.cycle(ctx, logger, policy); err != nil || single {
		return err
	}
	if c.outcomeStops() {
		return nil
	}
	return c.monitor(ctx, logger, policy, stream)
}

func (c *Collector) monitor(ctx context.Context, logger *slog.Logger, policy *recovery.Policy, stream *interaction.Stream) error {
	start := time.Now()
	lastCollect := start
	for !c.stopping.Load() {
		now := time.Now()
		if c.cfg.Duration > 0 && now.Sub(start) >= c.cfg.Duration {
			logger.Info("monitor duration reached")
			return c.drain(ctx, stream)
		}
		if now.Sub(lastCollect) >= c.cfg.CollectInterval {
			lastCollect = now
			if err := c.cycle(ctx, logger, policy); err != nil {
				return err
			}
			if c.outcomeStops() {
				return nil
			}
		}
		if err := c.drain(ctx, stream); err != nil {
			return err
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}
	logger.Info("stop requested")
	return nil
}

func (c *Collector) cycle(ctx context.Context, logger *slog.Logger, policy *recovery.Policy) error {
	res, err := policy.Cycle(ctx)
	if err != nil {
		return &Error{Phase: PhaseCollect, Err: err}
	}
	c.mu.Lock()
	c.outcome = &res.Outcome
	c.mu.Unlock()

	switch res.Outcome {
	case recovery.OutcomeEnded:
		logger.Info("live has ended, stopping collection")
	case recovery.OutcomeUnhealthy:
		logger.Warn("page is not healthy, stopping collection")
	case recovery.OutcomePageErrorExhausted, recovery.OutcomeChallengeUnresolved:
		logger.Error("stopping collection", slog.String("reason", res.Err().Error()))
	}
	return nil
}

func (c *Collector) outcomeStops() bool {
	o, ok := c.Outcome()
	return ok && o != recovery.OutcomeHealthy
}

func (c *Collector) drain(ctx context.Context, stream *interaction.Stream) error {
	items, err := stream.Drain(ctx)
	if err != nil {
		if browser.IsSessionInvalid(err) || ctx.Err() != nil {
			return &Error{Phase: PhaseCollect, Err: err}
		}
		c.logger.Debug("failed to read interactions", slog.String("err", err.Error()))
		return nil
	}
	for _, i := range items {
		c.writer.WriteInteraction(i)
		c.metrics.ObserveInteraction(i)
		c.feed.publish(i)
	}
	return nil
}

func (c *Collector) observeTransition(t recovery.Transition) {
	switch t.To {
	case recovery.StateRefreshing:
		c.metrics.ObservePageErrorRetry()
	case recovery.StateAwaitingChallengeResolution:
		c.metrics.ObserveChallenge("detected")
	}
}

// Session returns the session of the current or last run, or nil.
func (c *Collector) Session() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Outcome returns the outcome of the last completed cycle.
func (c *Collector) Outcome() (recovery.Outcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.outcome == nil {
		return 0, false
	}
	return *c.outcome, true
}

func (c *Collector) Gate() *challenge.Gate {
	return c.gate
}

func (c *Collector) Running() bool {
	return c.running.Load()
}

// Interactions returns the most recent captured interactions, oldest first.
func (c *Collector) Interactions() []types.Interaction {
	return c.feed.recent()
}

// Subscribe returns a channel receiving every interaction captured from now
// on. The channel is closed when the run ends or cancel is called.
func (c *Collector) Subscribe(buffer int) (<-chan types.Interaction, func()) {
	return c.feed.subscribe(buffer)
}

func (c *Collector) Status() types.MonitorStatus {
	username := c.cfg.Username
	st := types.MonitorStatus{
		IsRunning:    c.running.Load(),
		Username:     &username,
		Interactions: c.feed.count(),
	}
	if s := c.Session(); s != nil {
		stats := s.Stats()
		st.SessionID = stats.ID
		st.StartTime = &stats.StartTime
		st.TotalSnapshots = stats.TotalSnapshots
		st.HealthySnapshots = stats.HealthySnapshots
		st.ErrorSnapshots = stats.ErrorSnapshots
	}
	return st
}

func recoveryConfig(rc config.RecoveryConfig) recovery.Config {
	return recovery.Config{
		MaxRetries:           rc.MaxPageErrorRetries,
		RefreshSettleDelay:   rc.RefreshSettleDelay,
		ChallengeTimeout:     rc.ChallengeTimeout,
		ChallengeSettleDelay: rc.ChallengeSettleDelay,
	}
}

type refresher struct {
	browser browser.Browser
	stream  *interaction.Stream
	logger  *slog.Logger
}

func (r *refresher) Refresh(ctx context.Context) error {
	if err := r.browser.Reload(ctx); err != nil {
		return err
	}
	if err := r.stream.Install(ctx); err != nil {
		if browser.IsSessionInvalid(err) {
			return err
		}
		r.logger.Warn("failed to reinstall interaction capture", slog.String("err", err.Error()))
	}
	return nil
}

type resolver struct {
	gate    *challenge.Gate
	browser browser.Browser
	metrics *metrics.Metrics
}

func (r *resolver) Resolve(ctx context.Context, timeout time.Duration) error {
	err := r.gate.Await(ctx, r.browser, timeout)
	switch {
	case err == nil:
		r.metrics.ObserveChallenge("resolved")
	case errors.Is(err, challenge.ErrTimeout):
		r.metrics.ObserveChallenge("timeout")
	}
	return err
}

type recorderFunc func(s *snapshot.Snapshot)

func (f recorderFunc) Record(s *snapshot.Snapshot) { f(s) }

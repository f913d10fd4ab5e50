// Package challenge coordinates human resolution of verification challenges.
// The collector goroutine waits in Await while an operator looks at the
// published screenshot and submits a click through Submit.
package challenge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jakopako/livemon/internal/browser"
	"github.com/jakopako/livemon/internal/log"
)

var (
	// ErrTimeout means nobody resolved the challenge in time.
	ErrTimeout = errors.New("verification challenge not resolved before timeout")
	// ErrNotPending is returned by Submit when no challenge is open.
	ErrNotPending = errors.New("no verification challenge pending")
)

// Status is the externally visible state of the gate.
type Status struct {
	Solved   bool `json:"solved"`
	HasImage bool `json:"has_image"`
	Pending  bool `json:"pending"`
}

type click struct {
	x, y  float64
	reply chan error
}

// Gate is safe for concurrent use. Only the goroutine calling Await touches
// the browser.
type Gate struct {
	mu      sync.Mutex
	image   string
	solved  bool
	pending bool
	closed  chan struct{}
	clicks  chan click
	logger  *slog.Logger
}

func NewGate(logger *slog.Logger) *Gate {
	return &Gate{
		clicks: make(chan click),
		logger: log.OrDiscard(logger).With(slog.String("component", "challenge")),
	}
}

// Await publishes a screenshot of the challenge and blocks until a submitted
// click succeeded, the timeout elapsed (ErrTimeout) or ctx is done.
func (g *Gate) Await(ctx context.Context, b browser.Browser, timeout time.Duration) error {
	png, err := b.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("capture challenge image: %w", err)
	}
	g.open("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
	defer g.close()
	g.logger.Warn("verification challenge detected, waiting for resolution", slog.Duration("timeout", timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			g.logger.Warn("verification challenge timed out")
			return ErrTimeout
		case c := <-g.clicks:
			err := b.Click(ctx, c.x, c.y)
			c.reply <- err
			if err != nil {
				g.logger.Warn("challenge click failed", slog.String("err", err.Error()))
				continue
			}
			g.mu.Lock()
			g.solved = true
			g.mu.Unlock()
			g.logger.Info("challenge click forwarded", slog.Float64("x", c.x), slog.Float64("y", c.y))
			return nil
		}
	}
}

func (g *Gate) open(image string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.image = image
	g.solved = false
	g.pending = true
	g.closed = make(chan struct{})
}

func (g *Gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = false
	close(g.closed)
}

// Submit hands a click at viewport coordinates to the waiting collector and
// returns the result of the click.
func (g *Gate) Submit(ctx context.Context, x, y float64) error {
	g.mu.Lock()
	pending, closed := g.pending, g.closed
	g.mu.Unlock()
	if !pending {
		return ErrNotPending
	}
	c := click{x: x, y: y, reply: make(chan error, 1)}
	select {
	case g.clicks <- c:
	case <-closed:
		return ErrNotPending
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Image returns the last published challenge screenshot as a data url.
func (g *Gate) Image() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.image, g.image != ""
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{Solved: g.solved, HasImage: g.image != "", Pending: g.pending}
}

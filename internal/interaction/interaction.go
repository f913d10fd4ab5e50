// Package interaction installs the in-page capture hooks and drains the
// captured events exactly once each.
package interaction

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/jakopako/livemon/internal/browser"
	"github.com/jakopako/livemon/internal/log"
	"github.com/jakopako/livemon/internal/types"
)

// CaptureScript installs the mutation observers that append events to
// window.__livemon_interactions. It evaluates to true on a fresh install and
// to false if the hooks were already present on the page.
//
//go:embed capture.js
var CaptureScript string

// ReadScript returns the whole captured sequence.
const ReadScript = `(() => window.__livemon_interactions || [])()`

// Stream reads captured interactions incrementally. The watermark is the
// number of entries of the current page sequence that were already delivered.
// A Stream has a single consumer and is not safe for concurrent use.
type Stream struct {
	browser   browser.Browser
	cursor    int
	delivered int
	logger    *slog.Logger
}

func NewStream(b browser.Browser, logger *slog.Logger) *Stream {
	return &Stream{
		browser: b,
		logger:  log.OrDiscard(logger).With(slog.String("component", "interaction")),
	}
}

// Install evaluates the capture script. A fresh install starts a new page
// sequence, so the cursor is rebased.
func (s *Stream) Install(ctx context.Context) error {
	var fresh bool
	if err := s.browser.Evaluate(ctx, CaptureScript, &fresh); err != nil {
		return fmt.Errorf("install interaction capture: %w", err)
	}
	if fresh {
		s.cursor = 0
		s.logger.Info("interaction capture installed")
	} else {
		s.logger.Debug("interaction capture already present")
	}
	return nil
}

// Drain returns the interactions captured since the previous call.
func (s *Stream) Drain(ctx context.Context) ([]types.Interaction, error) {
	var all []types.Interaction
	if err := s.browser.Evaluate(ctx, ReadScript, &all); err != nil {
		return nil, fmt.Errorf("read interactions: %w", err)
	}
	if len(all) < s.cursor {
		// the page sequence was recreated, e.g. by a reload
		s.logger.Debug("interaction sequence shrank, rebasing",
			slog.Int("length", len(all)), slog.Int("cursor", s.cursor))
		s.cursor = 0
	}
	fresh := all[s.cursor:]
	s.cursor = len(all)
	s.delivered += len(fresh)
	return fresh, nil
}

// Cursor is the position in the current page sequence.
func (s *Stream) Cursor() int {
	return s.cursor
}

// Delivered is the total number of interactions returned so far. It never decreases.
func (s *Stream) Delivered() int {
	return s.delivered
}

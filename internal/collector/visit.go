package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakopako/livemon/internal/browser"
)

const (
	roomReadyPoll = 500 * time.Millisecond
	scrollSteps   = 3
	scrollDelay   = 500 * time.Millisecond
)

const roomReadyScript = `(() => !!document.querySelector("div[class*='-LiveRoom'], div[data-e2e='live-room'], video"))()`

const closeLoginModalScript = `(() => {
	const modal = document.querySelector('#login-modal, [id*="login"][role="dialog"]');
	if (!modal) {
		return false;
	}
	const button = modal.querySelector('[data-e2e="modal-close-inner-button"], [aria-label="Close"], button[class*="close"]');
	if (button) {
		button.click();
	} else {
		modal.remove();
	}
	return true;
})()`

// scrolling a bit triggers the lazily loaded chat and gift panels
const scrollScript = `(() => { window.scrollBy(0, 300); return true; })()`

// visit opens the live room and prepares it for observation.
func (c *Collector) visit(ctx context.Context, b browser.Browser, logger *slog.Logger) error {
	nav := c.cfg.Navigation
	var err error
	for attempt := 1; attempt <= nav.Retries; attempt++ {
		logger.Info("opening live room", slog.String("url", c.cfg.LiveURL), slog.Int("attempt", attempt))
		if err = b.Navigate(ctx, c.cfg.LiveURL); err == nil {
			break
		}
		if browser.IsSessionInvalid(err) || ctx.Err() != nil {
			return err
		}
		logger.Warn("failed to open live room", slog.Int("attempt", attempt), slog.String("err", err.Error()))
		if attempt < nav.Retries {
			if err := c.sleep(ctx, nav.RetryDelay); err != nil {
				return err
			}
		}
	}
	if err != nil {
		return fmt.Errorf("open live room after %d attempts: %w", nav.Retries, err)
	}

	if err := c.waitForRoom(ctx, b, logger); err != nil {
		return err
	}

	var closed bool
	if err := b.Evaluate(ctx, closeLoginModalScript, &closed); err != nil {
		logger.Debug("failed to close login modal", slog.String("err", err.Error()))
	} else if closed {
		logger.Info("closed login modal")
	}
	for range scrollSteps {
		if err := b.Evaluate(ctx, scrollScript, nil); err != nil {
			logger.Debug("failed to scroll", slog.String("err", err.Error()))
			break
		}
		if err := c.sleep(ctx, scrollDelay); err != nil {
			return err
		}
	}
	return nil
}

// waitForRoom polls for the live room elements. Missing elements only produce
// a warning; the classification decides later whether the page is usable.
func (c *Collector) waitForRoom(ctx context.Context, b browser.Browser, logger *slog.Logger) error {
	deadline := time.Now().Add(c.cfg.Navigation.PageLoadTimeout)
	for {
		var ready bool
		err := b.Evaluate(ctx, roomReadyScript, &ready)
		if browser.IsSessionInvalid(err) {
			return err
		}
		if err == nil && ready {
			logger.Debug("live room elements present")
			return nil
		}
		if !time.Now().Before(deadline) {
			logger.Warn("live room elements did not appear in time, continuing",
				slog.Duration("timeout", c.cfg.Navigation.PageLoadTimeout))
			return nil
		}
		if err := c.sleep(ctx, roomReadyPoll); err != nil {
			return err
		}
	}
}

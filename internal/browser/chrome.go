package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/livemon/internal/log"
)

const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Chrome is a Browser backed by a local Chrome process driven through the
// DevTools protocol.
type Chrome struct {
	*Config
	allocContext context.Context
	cancelAlloc  context.CancelFunc
	tabContext   context.Context
	cancelTab    context.CancelFunc
	invalid      atomic.Bool
	logger       *slog.Logger
}

// ChromeLauncher launches Chrome sessions with a fixed configuration.
type ChromeLauncher struct {
	Config *Config
	Logger *slog.Logger
}

func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	ch, err := NewChrome(ctx, l.Config, l.Logger)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func allocatorOptions(c *Config) []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(c.WindowWidth, c.WindowHeight),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", c.Language),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
	)
	if !c.Headless {
		opts = append(opts,
			chromedp.Flag("headless", false),
			chromedp.Flag("start-maximized", true),
		)
	}
	if c.InContainer {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-software-rasterizer", true),
		)
	}
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	if c.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.UserDataDir))
	}
	if c.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.UserAgent))
	}
	return opts
}

// NewChrome starts Chrome and opens a tab. The browser lives until Close is
// called, independently of ctx.
func NewChrome(ctx context.Context, c *Config, logger *slog.Logger) (*Chrome, error) {
	if logger == nil {
		logger = log.LoggerFromContext(ctx)
	}
	logger = logger.With(slog.String("component", "browser"))

	allocContext, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(c)...)
	tabContext, cancelTab := chromedp.NewContext(allocContext)
	ch := &Chrome{
		Config:       c,
		allocContext: allocContext,
		cancelAlloc:  cancelAlloc,
		tabContext:   tabContext,
		cancelTab:    cancelTab,
		logger:       logger,
	}

	chromedp.ListenTarget(tabContext, func(ev any) {
		switch ev.(type) {
		case *inspector.EventDetached, *inspector.EventTargetCrashed:
			ch.invalid.Store(true)
		}
	})

	// the first Run allocates the browser, it must use the tab context itself
	err := chromedp.Run(tabContext,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx)
			return err
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			protocolVersion, product, _, _, jsVersion, err := cdpbrowser.GetVersion().Do(ctx)
			if err != nil {
				logger.Warn("failed to get chrome version", slog.String("err", err.Error()))
				return nil
			}
			logger.Debug(fmt.Sprintf("chrome version: protocolVersion=%s, product=%s, jsVersion=%s",
				protocolVersion, product, jsVersion))
			return nil
		}),
	)
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, &Error{Op: "launch", Err: err}
	}
	logger.Info("browser started", slog.Bool("headless", c.Headless), slog.Bool("container", c.InContainer))
	return ch, nil
}

func (c *Chrome) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	if c.invalid.Load() || c.tabContext.Err() != nil {
		return &Error{Op: op, Err: ErrSessionInvalid}
	}
	runCtx, cancel := context.WithCancel(c.tabContext)
	defer cancel()
	if c.CallTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, c.CallTimeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if c.invalid.Load() || c.tabContext.Err() != nil {
			return &Error{Op: op, Err: errors.Join(ErrSessionInvalid, err)}
		}
		if ctx.Err() != nil {
			return &Error{Op: op, Err: ctx.Err()}
		}
		return &Error{Op: op, Err: err}
	}
	return nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.logger.Debug("navigating", slog.String("url", url))
	return c.run(ctx, "navigate", chromedp.Navigate(url))
}

func (c *Chrome) Reload(ctx context.Context) error {
	c.logger.Debug("reloading page")
	return c.run(ctx, "reload", chromedp.Reload())
}

func (c *Chrome) Evaluate(ctx context.Context, script string, out any) error {
	return c.run(ctx, "evaluate", chromedp.Evaluate(script, out))
}

func (c *Chrome) OuterHTML(ctx context.Context) (string, error) {
	var body string
	err := c.run(ctx, "outer html", chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	return body, err
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, "screenshot", chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (c *Chrome) Click(ctx context.Context, x, y float64) error {
	c.logger.Debug(fmt.Sprintf("clicking at (%.0f, %.0f)", x, y))
	return c.run(ctx, "click", chromedp.MouseClickXY(x, y))
}

// Close shuts the browser down. It is safe to call more than once.
func (c *Chrome) Close() error {
	if c.invalid.Swap(true) && c.tabContext.Err() != nil {
		return nil
	}
	err := chromedp.Cancel(c.tabContext)
	c.cancelTab()
	c.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return &Error{Op: "close", Err: err}
	}
	c.logger.Info("browser closed")
	return nil
}

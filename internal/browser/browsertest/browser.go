// Package browsertest provides a scripted in-memory browser.Browser.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jakopako/livemon/internal/browser"
	"github.com/jakopako/livemon/internal/inspect"
	"github.com/jakopako/livemon/internal/interaction"
	"github.com/jakopako/livemon/internal/types"
)

// Page is one scripted page state.
type Page struct {
	URL      string
	Title    string
	BodyText string
	HTML     string
}

// Browser plays back page states. Every inspection consumes one state; the
// last state repeats. A reload drops the captured interactions and the
// capture hooks, like a real page reload does.
type Browser struct {
	mu           sync.Mutex
	pages        []Page
	next         int
	html         string
	hooked       bool
	interactions []types.Interaction
	closed       bool
	err          error

	// NavigateErrs are returned by consecutive Navigate calls before they succeed.
	NavigateErrs []error
	// OnEvaluate answers scripts the browser does not recognise. The default
	// answers true.
	OnEvaluate func(script string) (any, error)

	Navigations []string
	Reloads     int
	Installs    int
	Screenshots int
	Clicks      [][2]float64
	Scripts     []string
}

func New(pages ...Page) *Browser {
	return &Browser{pages: pages}
}

// Push appends captured interactions to the page sequence.
func (b *Browser) Push(items ...types.Interaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interactions = append(b.interactions, items...)
}

// SetPages replaces the remaining page states.
func (b *Browser) SetPages(pages ...Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages = pages
	b.next = 0
}

// SetErr makes every following call fail with err. A nil err clears the failure.
func (b *Browser) SetErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) check(op string) error {
	if b.closed {
		return &browser.Error{Op: op, Err: browser.ErrSessionInvalid}
	}
	if b.err != nil {
		return &browser.Error{Op: op, Err: b.err}
	}
	return nil
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("navigate"); err != nil {
		return err
	}
	b.Navigations = append(b.Navigations, url)
	if len(b.NavigateErrs) > 0 {
		err := b.NavigateErrs[0]
		b.NavigateErrs = b.NavigateErrs[1:]
		return &browser.Error{Op: "navigate", Err: err}
	}
	b.resetPage()
	return nil
}

func (b *Browser) Reload(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("reload"); err != nil {
		return err
	}
	b.Reloads++
	b.resetPage()
	return nil
}

func (b *Browser) resetPage() {
	b.hooked = false
	b.interactions = nil
}

func (b *Browser) Evaluate(ctx context.Context, script string, out any) error {
	b.mu.Lock()
	if err := b.check("evaluate"); err != nil {
		b.mu.Unlock()
		return err
	}
	b.Scripts = append(b.Scripts, script)

	var result any
	switch script {
	case inspect.MaterialScript:
		p := b.page()
		b.html = p.HTML
		result = inspect.Material{URL: p.URL, Title: p.Title, BodyText: p.BodyText}
	case interaction.CaptureScript:
		b.Installs++
		result = !b.hooked
		if !b.hooked {
			b.hooked = true
			b.interactions = nil
		}
	case interaction.ReadScript:
		result = append([]types.Interaction{}, b.interactions...)
	default:
		onEvaluate := b.OnEvaluate
		b.mu.Unlock()
		if onEvaluate == nil {
			return decode(true, out)
		}
		r, err := onEvaluate(script)
		if err != nil {
			return &browser.Error{Op: "evaluate", Err: err}
		}
		return decode(r, out)
	}
	b.mu.Unlock()
	return decode(result, out)
}

func (b *Browser) page() Page {
	if len(b.pages) == 0 {
		return Page{}
	}
	p := b.pages[b.next]
	if b.next < len(b.pages)-1 {
		b.next++
	}
	return p
}

func decode(v any, out any) error {
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (b *Browser) OuterHTML(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("outer html"); err != nil {
		return "", err
	}
	return b.html, nil
}

// pngHeader is enough of a PNG for data url tests.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("screenshot"); err != nil {
		return nil, err
	}
	b.Screenshots++
	return append([]byte{}, pngHeader...), nil
}

func (b *Browser) Click(ctx context.Context, x, y float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("click"); err != nil {
		return err
	}
	b.Clicks = append(b.Clicks, [2]float64{x, y})
	return nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Launcher returns a launcher that always hands out b.
func (b *Browser) Launcher() browser.Launcher {
	return browser.LauncherFunc(func(ctx context.Context) (browser.Browser, error) {
		return b, nil
	})
}

// Counts returns the call counters.
func (b *Browser) Counts() (reloads, installs, screenshots, clicks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Reloads, b.Installs, b.Screenshots, len(b.Clicks)
}

// Package inspect classifies the state of the live room page from its body
// text and DOM.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jakopako/livemon/internal/browser"
	"github.com/jakopako/livemon/internal/log"
	"github.com/jakopako/livemon/internal/utils"
	"golang.org/x/net/html"
)

const (
	previewLength       = 500
	viewerSelector      = `[class*="viewer"]`
	initialDataSelector = `script#__UNIVERSAL_DATA_FOR_REHYDRATION__`
)

// MaterialScript returns the raw page material read on every inspection.
const MaterialScript = `(() => {
	let bodyText = '';
	try {
		bodyText = document.body ? (document.body.innerText || '') : '';
	} catch (e) {}
	return {url: window.location.href || '', title: document.title || '', bodyText: bodyText};
})()`

// Material is the result of MaterialScript.
type Material struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	BodyText string `json:"bodyText"`
}

// StatusRecord is the outcome of one inspection.
type StatusRecord struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	HasVideo        bool   `json:"hasVideo"`
	VideoCount      int    `json:"videoCount"`
	HasErrorMessage bool   `json:"hasErrorMessage"`
	HasPageError    bool   `json:"hasPageError"`
	IsLiveEnded     bool   `json:"isLiveEnded"`
	HasLiveContent  bool   `json:"hasLiveContent"`
	HasCaptcha      bool   `json:"hasCaptcha"`
	ElementCount    int    `json:"elementCount"`
	ViewerCount     *int   `json:"viewerCount"`
	BodyTextPreview string `json:"bodyTextPreview"`
	// Signals holds every evaluated predicate, including custom ones.
	Signals map[Signal]bool `json:"-"`
}

// Report bundles a StatusRecord with the document facts needed for a snapshot.
type Report struct {
	Status      StatusRecord
	HTMLSize    int
	InitialData json.RawMessage
}

// Error is an inspection that could not query the browser.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inspect page: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Inspector struct {
	browser    browser.Browser
	predicates map[Signal]Predicate
	logger     *slog.Logger
}

type Option func(*Inspector)

// WithPredicate adds or replaces the predicate for signal.
func WithPredicate(signal Signal, p Predicate) Option {
	return func(i *Inspector) {
		i.predicates[signal] = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Inspector) {
		i.logger = log.OrDiscard(logger)
	}
}

func New(b browser.Browser, opts ...Option) *Inspector {
	i := &Inspector{
		browser:    b,
		predicates: DefaultPredicates(),
		logger:     log.Discard(),
	}
	for _, o := range opts {
		o(i)
	}
	i.logger = i.logger.With(slog.String("component", "inspect"))
	return i
}

// Inspect queries the browser once and classifies the page.
func (i *Inspector) Inspect(ctx context.Context) (Report, error) {
	var m Material
	if err := i.browser.Evaluate(ctx, MaterialScript, &m); err != nil {
		return Report{}, &Error{Err: err}
	}
	src, err := i.browser.OuterHTML(ctx)
	if err != nil {
		return Report{}, &Error{Err: err}
	}
	return i.Examine(m, src), nil
}

// Examine classifies already fetched page material. It never fails: a
// predicate that panics reports false.
func (i *Inspector) Examine(m Material, src string) Report {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		i.logger.Debug("failed to parse page html", slog.String("err", err.Error()))
		root = &html.Node{Type: html.DocumentNode}
	}
	p := &Page{
		URL:      m.URL,
		Title:    m.Title,
		BodyText: m.BodyText,
		Doc:      goquery.NewDocumentFromNode(root),
	}

	signals := make(map[Signal]bool, len(i.predicates))
	for s := range i.predicates {
		signals[s] = i.evaluate(s, p)
	}

	status := StatusRecord{
		URL:             m.URL,
		Title:           m.Title,
		HasErrorMessage: signals[SignalErrorMessage],
		HasPageError:    signals[SignalPageError],
		IsLiveEnded:     signals[SignalLiveEnded],
		HasLiveContent:  signals[SignalLiveContent],
		HasCaptcha:      signals[SignalCaptcha],
		BodyTextPreview: utils.Preview(m.BodyText, previewLength),
		Signals:         signals,
	}
	i.guard("videoCount", func() {
		status.VideoCount = p.Doc.Find("video").Length()
		status.HasVideo = status.VideoCount > 0
	})
	i.guard("elementCount", func() {
		status.ElementCount = p.Doc.Find("*").Length()
	})
	i.guard("viewerCount", func() {
		status.ViewerCount = viewerCount(p.Doc)
	})

	return Report{
		Status:      status,
		HTMLSize:    len(src),
		InitialData: i.initialData(p.Doc),
	}
}

func (i *Inspector) evaluate(s Signal, p *Page) (v bool) {
	i.guard(string(s), func() {
		v = i.predicates[s](p)
	})
	return v
}

func (i *Inspector) guard(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Debug("page check failed", slog.String("signal", name), slog.Any("panic", r))
		}
	}()
	f()
}

func viewerCount(doc *goquery.Document) *int {
	var count *int
	doc.Find(viewerSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if n, ok := utils.FirstNumber(s.Text()); ok {
			count = &n
			return false
		}
		return true
	})
	return count
}

func (i *Inspector) initialData(doc *goquery.Document) json.RawMessage {
	sel := doc.Find(initialDataSelector).First()
	if sel.Length() == 0 {
		return nil
	}
	raw := strings.TrimSpace(sel.Text())
	if !json.Valid([]byte(raw)) {
		i.logger.Warn("initial data is not valid json", slog.Int("size", len(raw)))
		return nil
	}
	return json.RawMessage(raw)
}

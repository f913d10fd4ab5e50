package inspect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Signal names a boolean page-state indicator.
type Signal string

const (
	SignalErrorMessage Signal = "hasErrorMessage"
	SignalPageError    Signal = "hasPageError"
	SignalLiveEnded    Signal = "isLiveEnded"
	SignalLiveContent  Signal = "hasLiveContent"
	SignalCaptcha      Signal = "hasCaptcha"
)

// Page is the material a predicate is evaluated against.
type Page struct {
	URL      string
	Title    string
	BodyText string
	Doc      *goquery.Document
}

// A Predicate decides a single signal for a page.
type Predicate func(p *Page) bool

var (
	browserUnsupportedMarkers = []string{"尝试其它浏览器", "try another browser"}
	pageErrorMarkers          = []string{
		"我们遇到了一些问题",
		"很抱歉造成不便",
		"请稍后重试",
		"Something went wrong",
		"We encountered an issue",
		"Please try again",
	}
	liveEndedMarkers = []string{"直播已结束", "Live ended"}
	captchaMarkers   = []string{"验证", "captcha", "verify", "滑动验证", "slider"}
	captchaSelector  = strings.Join([]string{
		`[class*="captcha"]`,
		`[class*="verify"]`,
		`[id*="captcha"]`,
		`[id*="verify"]`,
		`iframe[src*="captcha"]`,
		`iframe[src*="verify"]`,
	}, ", ")
	liveContentSelector = `[class*="live"], [class*="Live"]`
)

// TextContainsAny matches if the body text contains one of the markers.
func TextContainsAny(markers ...string) Predicate {
	return func(p *Page) bool {
		for _, m := range markers {
			if strings.Contains(p.BodyText, m) {
				return true
			}
		}
		return false
	}
}

// LowerTextContainsAny matches case-insensitively. Markers must be lower case.
func LowerTextContainsAny(markers ...string) Predicate {
	return func(p *Page) bool {
		text := strings.ToLower(p.BodyText)
		for _, m := range markers {
			if strings.Contains(text, m) {
				return true
			}
		}
		return false
	}
}

// HasElement matches if the document contains an element for selector.
func HasElement(selector string) Predicate {
	return func(p *Page) bool {
		return p.Doc.Find(selector).Length() > 0
	}
}

// Any matches if one of the predicates matches.
func Any(predicates ...Predicate) Predicate {
	return func(p *Page) bool {
		for _, pr := range predicates {
			if pr(p) {
				return true
			}
		}
		return false
	}
}

// DefaultPredicates returns the predicate set for the live room page.
// The returned map is a fresh copy.
func DefaultPredicates() map[Signal]Predicate {
	return map[Signal]Predicate{
		SignalErrorMessage: TextContainsAny(browserUnsupportedMarkers...),
		SignalPageError:    TextContainsAny(pageErrorMarkers...),
		SignalLiveEnded:    TextContainsAny(liveEndedMarkers...),
		SignalLiveContent:  HasElement(liveContentSelector),
		SignalCaptcha:      Any(LowerTextContainsAny(captchaMarkers...), HasElement(captchaSelector)),
	}
}

package extractor

import (
	"time"

	"github.com/use-agent/leadharvest/models"
)

// State is one step of an extraction. The set of states is closed.
type State interface {
	stateName() string
}

// Navigate loads the target URL. Retry marks the single re-navigation
// after a timeout.
type Navigate struct{ Retry bool }

// NavigationFailed holds a navigation failure that still has to be
// refined and classified.
type NavigationFailed struct{}

// Settle waits for the page to go quiet and then pauses.
type Settle struct{}

// CaptureScreenshot takes a best-effort full-page screenshot.
type CaptureScreenshot struct{}

// ExtractDOM runs the text extractor over the captured DOM.
type ExtractDOM struct{}

// DOMWeak means the DOM text is too short or looks like an error page.
type DOMWeak struct{ Reason string }

// InvokeVision asks the vision model to describe the screenshot.
type InvokeVision struct{}

// Classified is terminal.
type Classified struct{ Status models.ExtractionStatus }

func (Navigate) stateName() string          { return "navigate" }
func (NavigationFailed) stateName() string  { return "navigation_failed" }
func (Settle) stateName() string            { return "settle" }
func (CaptureScreenshot) stateName() string { return "capture_screenshot" }
func (ExtractDOM) stateName() string        { return "extract_dom" }
func (DOMWeak) stateName() string           { return "dom_weak" }
func (InvokeVision) stateName() string      { return "invoke_vision" }
func (Classified) stateName() string        { return "classified" }

// Evidence is everything observed so far for one URL. Each state adds to
// it; decide reads it.
type Evidence struct {
	URL string

	NavErr     error
	NavStatus  models.ExtractionStatus // set once a navigation failure is classified
	NavReason  string
	HTTPStatus int
	Retried    bool
	Expired    bool // the per-URL deadline ran out

	Platform string
	Pause    time.Duration

	Screenshot     []byte
	ScreenshotPath string

	Title   string
	DOMText string
	Marker  *Marker

	VisionEnabled bool
	Vision        string
	VisionErr     error
}

// decide returns the state that follows cur given the evidence gathered
// while cur ran. It performs no I/O.
func decide(cur State, ev Evidence, minTextLength int) State {
	switch s := cur.(type) {
	case Navigate:
		if ev.NavErr == nil && ev.HTTPStatus < 400 {
			return Settle{}
		}
		if !s.Retry && ev.NavErr != nil && isTimeout(ev.NavErr) {
			return Navigate{Retry: true}
		}
		return NavigationFailed{}

	case NavigationFailed:
		if ev.NavStatus == "" {
			return Classified{Status: models.StatusFailedOther}
		}
		return Classified{Status: ev.NavStatus}

	case Settle:
		return CaptureScreenshot{}

	case CaptureScreenshot:
		return ExtractDOM{}

	case ExtractDOM:
		switch {
		case ev.Marker != nil:
			return DOMWeak{Reason: "marker"}
		case ev.DOMText == "":
			return DOMWeak{Reason: "empty"}
		case runeLen(ev.DOMText) < minTextLength:
			return DOMWeak{Reason: "short"}
		}
		return Classified{Status: models.StatusSuccess}

	case DOMWeak:
		// A described challenge page is not content.
		if ev.Marker != nil {
			return Classified{Status: models.StatusFailedOther}
		}
		if len(ev.Screenshot) > 0 && ev.VisionEnabled {
			return InvokeVision{}
		}
		return Classified{Status: weakStatus(ev)}

	case InvokeVision:
		if ev.VisionErr == nil && ev.Vision != "" {
			return Classified{Status: models.StatusSuccessViaImage}
		}
		return Classified{Status: weakStatus(ev)}

	case Classified:
		return s
	}
	return Classified{Status: models.StatusFailedOther}
}

// weakStatus classifies a page whose DOM was not enough on its own.
func weakStatus(ev Evidence) models.ExtractionStatus {
	if ev.DOMText != "" {
		return models.StatusFailedOther
	}
	return models.StatusFailedDOMEmpty
}

func runeLen(s string) int {
	return len([]rune(s))
}

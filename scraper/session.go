package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ysmood/gson"
)

// WaitUntil selects the page lifecycle event a navigation waits for.
type WaitUntil int

const (
	// WaitNone returns as soon as the action was dispatched.
	WaitNone WaitUntil = iota
	// WaitDOMContentLoaded waits for the DOMContentLoaded event.
	WaitDOMContentLoaded
	// WaitLoad waits for the window load event.
	WaitLoad
	// WaitNetworkIdle waits until the network has been idle for 500ms.
	WaitNetworkIdle
)

func (w WaitUntil) String() string {
	switch w {
	case WaitDOMContentLoaded:
		return "domcontentloaded"
	case WaitLoad:
		return "load"
	case WaitNetworkIdle:
		return "networkidle"
	default:
		return "none"
	}
}

// ErrElementNotFound is returned by Click and Submit when the selector
// matches nothing.
var ErrElementNotFound = errors.New("element not found")

// Session is one exclusively owned browser context with a single page.
// Every blocking primitive is bounded by the context it receives. A closed
// session must not be reused.
type Session interface {
	Navigate(ctx context.Context, url string, until WaitUntil) error
	Reload(ctx context.Context, until WaitUntil) error

	// Settle waits for the network to go quiet, giving up after timeout.
	Settle(ctx context.Context, timeout time.Duration) error

	// StatusCode is the HTTP status of the main document, 0 when unknown.
	StatusCode(ctx context.Context) int
	URL(ctx context.Context) string
	HTML(ctx context.Context) (string, error)
	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	// MarkHidden tags elements hidden by computed style so that a captured
	// HTML copy still knows about them.
	MarkHidden(ctx context.Context) error

	Has(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string, until WaitUntil) error
	Submit(ctx context.Context, selector, text string, until WaitUntil) error

	// WaitAny blocks until one selector matches and returns it.
	WaitAny(ctx context.Context, selectors ...string) (string, error)

	Close() error
}

// SessionOptions tunes a new session.
type SessionOptions struct {
	// BlockResources mounts the hijack router that drops configured resource
	// types and ad hosts. Sessions that need screenshots keep it off.
	BlockResources bool
}

// Opener creates sessions. *Scraper is the production implementation.
type Opener interface {
	Open(ctx context.Context, opts SessionOptions) (Session, error)
}

// NavigateLayered loads url trying progressively different readiness
// conditions, then one reload, before declaring the session unusable.
// Each attempt gets its own perAttempt deadline.
func NavigateLayered(ctx context.Context, s Session, url string, perAttempt time.Duration) error {
	var lastErr error
	for _, until := range []WaitUntil{WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle} {
		if err := attempt(ctx, perAttempt, func(actx context.Context) error {
			return s.Navigate(actx, url, until)
		}); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}

	if err := attempt(ctx, perAttempt, func(actx context.Context) error {
		return s.Reload(actx, WaitLoad)
	}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigate %s: all readiness conditions and reload failed: %w", url, lastErr)
	}
	return nil
}

func attempt(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

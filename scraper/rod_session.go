package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// rodSession is the go-rod backed Session. It owns an incognito browser
// context; closing the session disposes the context together with its page.
type rodSession struct {
	ctxBrowser *rod.Browser
	page       *rod.Page
	router     *rod.HijackRouter

	closeOnce sync.Once
	onClose   func()
}

var _ Session = (*rodSession)(nil)

// statusJS reads the main document status without CDP event listeners.
const statusJS = `() => {
	try {
		const entries = performance.getEntriesByType("navigation");
		if (entries.length > 0) return entries[0].responseStatus || 0;
	} catch(e) {}
	return 0;
}`

// markHiddenJS tags every element hidden by computed style. Returns the count.
const markHiddenJS = `() => {
	if (!document.body) return 0;
	let n = 0;
	for (const el of document.body.querySelectorAll('*')) {
		const st = window.getComputedStyle(el);
		if (st.display === 'none' || st.visibility === 'hidden') {
			el.setAttribute('data-lh-hidden', '1');
			n++;
		}
	}
	return n;
}`

// lifecycleWaiter must be created before the action that triggers the
// navigation, otherwise the event can be missed.
func lifecycleWaiter(p *rod.Page, until WaitUntil) func() {
	switch until {
	case WaitDOMContentLoaded:
		return p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	case WaitLoad:
		return p.WaitNavigation(proto.PageLifecycleEventNameLoad)
	case WaitNetworkIdle:
		return p.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	default:
		return func() {}
	}
}

func (s *rodSession) Navigate(ctx context.Context, url string, until WaitUntil) error {
	p := s.page.Context(ctx)
	wait := lifecycleWaiter(p, until)
	if err := p.Navigate(url); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (s *rodSession) Reload(ctx context.Context, until WaitUntil) error {
	p := s.page.Context(ctx)
	wait := lifecycleWaiter(p, until)
	if err := p.Reload(); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

// Settle uses request idleness unless a hijack router is mounted: the two
// conflict, so DOM stability stands in for it.
func (s *rodSession) Settle(ctx context.Context, timeout time.Duration) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := s.page.Context(sctx)
	if s.router != nil {
		return p.WaitDOMStable(300*time.Millisecond, 0.1)
	}
	p.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	return sctx.Err()
}

func (s *rodSession) StatusCode(ctx context.Context) int {
	v, err := s.Eval(ctx, statusJS)
	if err != nil {
		return 0
	}
	return v.Int()
}

func (s *rodSession) URL(ctx context.Context) string {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func (s *rodSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (s *rodSession) MarkHidden(ctx context.Context) error {
	_, err := s.Eval(ctx, markHiddenJS)
	return err
}

func (s *rodSession) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := s.page.Context(ctx).Has(selector)
	return has, err
}

func (s *rodSession) Click(ctx context.Context, selector string, until WaitUntil) error {
	p := s.page.Context(ctx)
	has, el, err := p.Has(selector)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("click %q: %w", selector, ErrElementNotFound)
	}

	wait := lifecycleWaiter(p, until)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	wait()
	return ctx.Err()
}

func (s *rodSession) Submit(ctx context.Context, selector, text string, until WaitUntil) error {
	p := s.page.Context(ctx)
	has, el, err := p.Has(selector)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("submit %q: %w", selector, ErrElementNotFound)
	}

	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into %q: %w", selector, err)
	}

	wait := lifecycleWaiter(p, until)
	if err := el.Type(input.Enter); err != nil {
		return fmt.Errorf("submit %q: %w", selector, err)
	}
	wait()
	return ctx.Err()
}

func (s *rodSession) WaitAny(ctx context.Context, selectors ...string) (string, error) {
	if len(selectors) == 0 {
		return "", fmt.Errorf("wait any: %w", ErrElementNotFound)
	}

	var matched string
	race := s.page.Context(ctx).Race()
	for _, sel := range selectors {
		race = race.Element(sel).Handle(func(*rod.Element) error {
			matched = sel
			return nil
		})
	}
	if _, err := race.Do(); err != nil {
		return "", err
	}
	return matched, nil
}

// Close releases the page and its browser context. Safe to call twice.
func (s *rodSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.router != nil {
			_ = s.router.Stop()
		}
		_ = s.page.Close()
		err = s.ctxBrowser.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}

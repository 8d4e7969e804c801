// Package scrapertest provides an in-memory scraper.Session for tests.
// Pages are served from a map keyed by URL; selector queries run against
// the current page's HTML with goquery.
package scrapertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/leadharvest/scraper"
	"github.com/ysmood/gson"
)

// PNG is a tiny stand-in for screenshot bytes.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Page is one canned response.
type Page struct {
	HTML   string
	Status int

	// NavErr is returned by every navigation to this page.
	NavErr error

	// ScreenshotErr makes Screenshot fail on this page.
	ScreenshotErr error

	// Hang makes every page operation after navigation block until its
	// context is done, like a renderer that stopped answering.
	Hang bool
}

// Site is the shared set of pages and behaviours behind every session an
// Opener creates.
type Site struct {
	mu    sync.Mutex
	Pages map[string]*Page

	// Clicks maps a selector to the URL loaded when it is clicked.
	Clicks map[string]string

	// SubmitURL maps submitted text to the URL the form leads to.
	SubmitURL func(text string) string

	visits []string
	clicks []string
}

// Visits returns every URL navigated to, in order.
func (s *Site) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

// Clicked returns every selector clicked on an existing element, in order.
func (s *Site) Clicked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

func (s *Site) click(selector string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, selector)
	target, ok := s.Clicks[selector]
	return target, ok
}

func (s *Site) page(url string) (*Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, url)
	p, ok := s.Pages[url]
	return p, ok
}

// Opener hands out Sessions over one Site.
type Opener struct {
	Site    *Site
	OpenErr error

	mu       sync.Mutex
	opened   int
	sessions []*Session
}

var _ scraper.Opener = (*Opener)(nil)

func (o *Opener) Open(ctx context.Context, opts scraper.SessionOptions) (scraper.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
	s := &Session{site: o.Site, Options: opts}
	o.sessions = append(o.sessions, s)
	return s, nil
}

// Opened is the number of sessions created.
func (o *Opener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

// AllClosed reports whether every created session was closed.
func (o *Opener) AllClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if !s.Closed() {
			return false
		}
	}
	return true
}

// Session implements scraper.Session over a Site.
type Session struct {
	site    *Site
	Options scraper.SessionOptions

	mu      sync.Mutex
	url     string
	current *Page
	closed  bool
}

var _ scraper.Session = (*Session)(nil)

// NewSession returns a session not tied to an Opener.
func NewSession(site *Site) *Session {
	return &Session{site: site}
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) load(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := s.site.page(url)
	if !ok {
		return fmt.Errorf("navigate %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	if p.NavErr != nil {
		return p.NavErr
	}
	s.mu.Lock()
	s.url = url
	s.current = p
	s.mu.Unlock()
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string, _ scraper.WaitUntil) error {
	return s.load(ctx, url)
}

func (s *Session) Reload(ctx context.Context, _ scraper.WaitUntil) error {
	s.mu.Lock()
	url := s.url
	s.mu.Unlock()
	if url == "" {
		return errors.New("reload: no page loaded")
	}
	return s.load(ctx, url)
}

func (s *Session) Settle(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func (s *Session) StatusCode(ctx context.Context) int {
	if s.hang(ctx) != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.current.Status
}

func (s *Session) URL(ctx context.Context) string {
	if s.hang(ctx) != nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	if err := s.hang(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", errors.New("html: no page loaded")
	}
	return s.current.HTML, nil
}

func (s *Session) Eval(context.Context, string, ...any) (gson.JSON, error) {
	return gson.New(nil), nil
}

func (s *Session) Screenshot(ctx context.Context, _ bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.hang(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, errors.New("screenshot: no page loaded")
	}
	if s.current.ScreenshotErr != nil {
		return nil, s.current.ScreenshotErr
	}
	return PNG, nil
}

func (s *Session) MarkHidden(ctx context.Context) error { return s.hang(ctx) }

func (s *Session) Has(ctx context.Context, selector string) (bool, error) {
	if err := s.hang(ctx); err != nil {
		return false, err
	}
	doc, err := s.doc()
	if err != nil {
		return false, nil
	}
	return doc.Find(selector).Length() > 0, nil
}

func (s *Session) Click(ctx context.Context, selector string, _ scraper.WaitUntil) error {
	if ok, _ := s.Has(ctx, selector); !ok {
		return fmt.Errorf("click %q: %w", selector, scraper.ErrElementNotFound)
	}
	target, ok := s.site.click(selector)
	if !ok {
		return nil
	}
	return s.load(ctx, target)
}

func (s *Session) Submit(ctx context.Context, selector, text string, _ scraper.WaitUntil) error {
	if ok, _ := s.Has(ctx, selector); !ok {
		return fmt.Errorf("submit %q: %w", selector, scraper.ErrElementNotFound)
	}
	if s.site.SubmitURL == nil {
		return errors.New("submit: site has no form target")
	}
	return s.load(ctx, s.site.SubmitURL(text))
}

// WaitAny never blocks: it reports the first selector present, or a
// deadline error as a real wait would after its timeout.
func (s *Session) WaitAny(ctx context.Context, selectors ...string) (string, error) {
	for _, sel := range selectors {
		if ok, _ := s.Has(ctx, sel); ok {
			return sel, nil
		}
	}
	return "", context.DeadlineExceeded
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Session) hang(ctx context.Context) error {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil || !p.Hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *Session) doc() (*goquery.Document, error) {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return nil, errors.New("no page loaded")
	}
	return goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
}

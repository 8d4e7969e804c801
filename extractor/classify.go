package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"

	"github.com/use-agent/leadharvest/models"
)

// classifyNavError maps a navigation error to a failure status and a short
// reason. Unknown errors map to failed_other.
func classifyNavError(err error) (models.ExtractionStatus, string) {
	if err == nil {
		return "", ""
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.StatusFailedDNS, "host could not be resolved"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return models.StatusFailedConnectionRefused, "connection refused"
	}
	if isTimeout(err) {
		return models.StatusFailedTimeout, "navigation timed out"
	}

	msg := err.Error()
	switch {
	case containsAny(msg, "ERR_NAME_NOT_RESOLVED", "ERR_NAME_RESOLUTION_FAILED", "no such host"):
		return models.StatusFailedDNS, "host could not be resolved"
	case containsAny(msg, "ERR_CONNECTION_REFUSED", "connection refused"):
		return models.StatusFailedConnectionRefused, "connection refused"
	case containsAny(msg, "ERR_CONNECTION_RESET", "ERR_CONNECTION_CLOSED", "ERR_EMPTY_RESPONSE"):
		return models.StatusFailedOther, "connection dropped by the server"
	case containsAny(msg, "ERR_CERT_", "ERR_SSL_", "certificate"):
		return models.StatusFailedOther, "TLS certificate error"
	}
	return models.StatusFailedOther, "navigation failed"
}

// isTimeout reports whether err is a deadline or a network timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return containsAny(err.Error(), "ERR_TIMED_OUT", "ERR_CONNECTION_TIMED_OUT", "deadline exceeded", "Timeout")
}

// httpStatusReason is the explanation stored for an HTTP error status.
func httpStatusReason(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("HTTP %d %s", code, text)
	}
	return fmt.Sprintf("HTTP %d", code)
}

// Marker is an error or bot-protection page recognised in the DOM.
type Marker struct {
	Source string
	// Challenge is true for bot-protection pages, false for error pages.
	Challenge bool
}

// pageSignals is what detectors inspect.
type pageSignals struct {
	Status int
	Title  string
	HTML   string
	Text   string
}

// detector examines a page and reports a marker when it recognises one.
type detector func(p pageSignals) *Marker

func defaultDetectors() []detector {
	return []detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
		detectBrowserError,
		detectServerError,
	}
}

// detectMarker runs every detector and returns the first match.
func detectMarker(p pageSignals, detectors []detector) *Marker {
	for _, d := range detectors {
		if m := d(p); m != nil {
			return m
		}
	}
	return nil
}

func detectCloudflare(p pageSignals) *Marker {
	if containsAny(p.HTML, "cf-browser-verification", "cf-turnstile", "challenge-platform/h/", "cf_chl_opt") ||
		strings.Contains(p.Title, "Attention Required! | Cloudflare") ||
		(p.Title == "Just a moment..." && strings.Contains(p.HTML, "cloudflare")) {
		return &Marker{Source: "Cloudflare", Challenge: true}
	}
	return nil
}

func detectAkamai(p pageSignals) *Marker {
	if strings.Contains(p.HTML, "Reference #") && strings.Contains(p.HTML, "Access Denied") {
		return &Marker{Source: "Akamai", Challenge: true}
	}
	return nil
}

func detectDataDome(p pageSignals) *Marker {
	if containsAny(p.HTML, "geo.captcha-delivery.com", "ct.captcha-delivery.com") {
		return &Marker{Source: "DataDome", Challenge: true}
	}
	return nil
}

func detectPerimeterX(p pageSignals) *Marker {
	if containsAny(p.HTML, "client.perimeterx.net", "px-captcha", "_pxBlock") {
		return &Marker{Source: "PerimeterX", Challenge: true}
	}
	return nil
}

// detectBrowserError recognises Chromium's own error interstitials.
func detectBrowserError(p pageSignals) *Marker {
	if containsAny(p.HTML, "chrome-error://", `id="main-frame-error"`, "neterror") ||
		containsAny(p.Text, "This site can’t be reached", "Este site não pode ser acessado") {
		return &Marker{Source: "browser error page"}
	}
	return nil
}

var serverErrorTitles = []string{
	"500 Internal Server Error",
	"502 Bad Gateway",
	"503 Service Unavailable",
	"504 Gateway Time-out",
	"Error establishing a database connection",
	"Account Suspended",
	"Conta suspensa",
	"Site em manutenção",
	"Index of /",
}

// detectServerError recognises generic error pages served with a 200.
func detectServerError(p pageSignals) *Marker {
	for _, t := range serverErrorTitles {
		if strings.HasPrefix(p.Title, t) {
			return &Marker{Source: "server error page"}
		}
	}
	if strings.Contains(p.Text, "Error establishing a database connection") {
		return &Marker{Source: "server error page"}
	}
	return nil
}

// slowPlatforms maps a site builder to signatures found in its pages.
// Their content is rendered by script well after load.
var slowPlatforms = []struct {
	name  string
	hosts []string
	html  []string
}{
	{"wix", []string{"wixsite.com", "wixstudio.io"}, []string{"static.wixstatic.com", "wix-thunderbolt", `content="Wix.com`}},
	{"squarespace", []string{"squarespace.com"}, []string{"static1.squarespace.com", "Static.SQUARESPACE_CONTEXT"}},
	{"webflow", []string{"webflow.io"}, []string{"data-wf-site", "assets.website-files.com"}},
	{"framer", []string{"framer.website", "framer.app"}, []string{"framerusercontent.com"}},
	{"weebly", []string{"weebly.com"}, []string{"editmysite.com"}},
	{"bubble", []string{"bubbleapps.io"}, []string{"bubble_page_load"}},
}

// detectPlatform names the site builder behind a page, or "".
func detectPlatform(rawURL, html string) string {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	for _, p := range slowPlatforms {
		for _, h := range p.hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return p.name
			}
		}
		if containsAny(html, p.html...) {
			return p.name
		}
	}
	return ""
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

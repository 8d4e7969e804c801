package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/use-agent/leadharvest/models"
)

func TestClassifyNavError(t *testing.T) {
	tests := []struct {
		err  error
		want models.ExtractionStatus
	}{
		{errors.New("navigation failed: net::ERR_NAME_NOT_RESOLVED"), models.StatusFailedDNS},
		{&net.DNSError{Err: "no such host", Name: "nada.invalid", IsNotFound: true}, models.StatusFailedDNS},
		{errors.New("dial tcp: lookup acme.invalid: no such host"), models.StatusFailedDNS},
		{errors.New("net::ERR_CONNECTION_REFUSED"), models.StatusFailedConnectionRefused},
		{fmt.Errorf("probe: %w", syscall.ECONNREFUSED), models.StatusFailedConnectionRefused},
		{context.DeadlineExceeded, models.StatusFailedTimeout},
		{fmt.Errorf("navigate: %w", context.DeadlineExceeded), models.StatusFailedTimeout},
		{errors.New("net::ERR_TIMED_OUT"), models.StatusFailedTimeout},
		{errors.New("net::ERR_CERT_DATE_INVALID"), models.StatusFailedOther},
		{errors.New("net::ERR_ABORTED"), models.StatusFailedOther},
	}
	for _, tt := range tests {
		got, reason := classifyNavError(tt.err)
		if got != tt.want {
			t.Errorf("classifyNavError(%v) = %s, want %s", tt.err, got, tt.want)
		}
		if reason == "" {
			t.Errorf("classifyNavError(%v) gave no reason", tt.err)
		}
	}
}

func TestDetectMarker(t *testing.T) {
	tests := []struct {
		name string
		p    pageSignals
		want string
	}{
		{"cloudflare turnstile", pageSignals{HTML: `<div class="cf-turnstile"></div>`}, "Cloudflare"},
		{"cloudflare title", pageSignals{Title: "Attention Required! | Cloudflare"}, "Cloudflare"},
		{"akamai", pageSignals{Status: 403, HTML: "<h1>Access Denied</h1> Reference #18.abc"}, "Akamai"},
		{"datadome", pageSignals{HTML: `<iframe src="https://geo.captcha-delivery.com/captcha/"></iframe>`}, "DataDome"},
		{"perimeterx", pageSignals{HTML: `<div id="px-captcha"></div>`}, "PerimeterX"},
		{"browser error", pageSignals{HTML: `<body class="neterror" id="main-frame-error"></body>`}, "browser error page"},
		{"database error", pageSignals{Title: "Database Error", Text: "Error establishing a database connection"}, "server error page"},
		{"directory listing", pageSignals{Title: "Index of /wp-content"}, "server error page"},
		{"normal page", pageSignals{Title: "Acme", HTML: "<p>Bem-vindo à Acme</p>", Text: "Bem-vindo à Acme"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := detectMarker(tt.p, defaultDetectors())
			got := ""
			if m != nil {
				got = m.Source
			}
			if got != tt.want {
				t.Errorf("marker = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url, html, want string
	}{
		{"https://acme.wixsite.com/loja", "", "wix"},
		{"https://acme.com.br/", `<script src="https://static.wixstatic.com/x.js"></script>`, "wix"},
		{"https://acme.com.br/", `<html data-wf-site="123">`, "webflow"},
		{"https://acme.squarespace.com/", "", "squarespace"},
		{"https://acme.com.br/", "<p>WordPress</p>", ""},
	}
	for _, tt := range tests {
		if got := detectPlatform(tt.url, tt.html); got != tt.want {
			t.Errorf("detectPlatform(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

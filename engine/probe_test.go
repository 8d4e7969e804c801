package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbe_ReportsStatusAndTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("probe should send a browser user agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<html><head><title> Em manutenção </title></head><body></body></html>`))
	}))
	defer srv.Close()

	p := newProber(http.DefaultTransport, 2*time.Second)
	res, err := p.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", res.StatusCode)
	}
	if res.Title != "Em manutenção" {
		t.Errorf("Title = %q", res.Title)
	}
}

func TestProbe_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := newProber(http.DefaultTransport, 2*time.Second).Probe(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.StatusCode != http.StatusOK || res.FinalURL != srv.URL+"/new" {
		t.Errorf("got %d %s", res.StatusCode, res.FinalURL)
	}
	if res.Title != "" {
		t.Errorf("non-HTML response should have no title, got %q", res.Title)
	}
}

func TestProbe_TransportErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	if _, err := newProber(http.DefaultTransport, time.Second).Probe(context.Background(), addr); err == nil {
		t.Fatal("expected an error for a closed server")
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		html string
		want string
	}{
		{`<html><head><title>Acme</title></head></html>`, "Acme"},
		{`<html><head></head><body>no title</body></html>`, ""},
		{`<title></title>`, ""},
	}
	for _, tt := range tests {
		if got := extractTitle(tt.html); got != tt.want {
			t.Errorf("extractTitle(%q) = %q, want %q", tt.html, got, tt.want)
		}
	}
}

package cache

import (
	"testing"
	"time"

	"github.com/use-agent/leadharvest/models"
)

func record(url string, status models.ExtractionStatus) *models.PageExtractionRecord {
	rec := models.NewPageExtractionRecord(url, nil)
	_ = rec.SetStatus(status)
	rec.ExtractedText = "texto de " + url
	return rec
}

func TestCache_GetSet(t *testing.T) {
	c := New(10, time.Hour)
	defer c.Stop()

	key := Key("https://acme.com.br/", "text")
	if _, ok := c.Get(key, time.Minute); ok {
		t.Fatal("empty cache hit")
	}

	c.Set(key, record("https://acme.com.br/", models.StatusSuccess))
	got, ok := c.Get(key, time.Minute)
	if !ok || got.ExtractedText != "texto de https://acme.com.br/" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	got.ExtractedText = "alterado"
	again, _ := c.Get(key, time.Minute)
	if again.ExtractedText == "alterado" {
		t.Error("Get must return a copy")
	}

	if _, ok := c.Get(key, 0); ok {
		t.Error("maxAge 0 must bypass the cache")
	}
	if Key("https://acme.com.br/", "markdown") == key {
		t.Error("format must be part of the key")
	}
}

func TestCache_SkipsFailuresAndEvicts(t *testing.T) {
	c := New(2, time.Hour)
	defer c.Stop()

	c.Set(Key("https://down.example/", "text"), record("https://down.example/", models.StatusFailedDNS))
	if c.Len() != 0 {
		t.Fatal("failed records must not be cached")
	}

	for _, u := range []string{"https://a.example/", "https://b.example/", "https://c.example/"} {
		c.Set(Key(u, "text"), record(u, models.StatusSuccess))
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

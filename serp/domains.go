package serp

import (
	"net/url"
	"strings"

	"github.com/use-agent/leadharvest/cleaner"
	"golang.org/x/net/publicsuffix"
)

// excludedBrands are registrable-domain labels excluded under any public
// suffix: google.com and google.com.br alike. Only labels no ordinary
// business would register belong here; generic words go to
// excludedDomains.
var excludedBrands = []string{
	// search engines and their caches
	"google", "googleusercontent", "gstatic", "bing", "yahoo", "duckduckgo",
	"yandex", "baidu", "ecosia",
	// social and video platforms
	"facebook", "instagram", "linkedin", "twitter", "tiktok", "youtube",
	"pinterest", "whatsapp", "telegram", "vimeo", "reddit", "kwai",
	"snapchat", "tumblr", "quora",
	// marketplaces, listings and aggregators
	"mercadolivre", "mercadolibre", "amazon", "olx", "shopee", "aliexpress",
	"ebay", "magazineluiza", "americanas", "casasbahia", "submarino", "elo7",
	"enjoei", "ifood", "rappi", "reclameaqui", "yelp", "tripadvisor",
	"glassdoor", "indeed", "catho", "infojobs", "wikipedia", "apontador",
	"guiamais", "telelistas", "econodata", "casadosdados",
}

// excludedDomains are exact registrable domains (and their subdomains) of
// services whose name is also a common word: brave.com.br stays a lead.
var excludedDomains = []string{
	"brave.com", "msn.com",
	"cnpj.biz", "cnpj.info", "cnpj.ws", "cnpja.com",
}

// excludedSuffixLabels exclude a host when its public suffix carries one of
// these labels (gov, gov.br, pr.gov.br, edu, edu.br, mil, ...).
var excludedSuffixLabels = []string{"gov", "edu", "mil"}

// excludedSuffixes are public suffixes excluded outright.
var excludedSuffixes = []string{"jus.br", "leg.br", "mp.br", "def.br"}

// excludedMarkers appear in the search engine's own auxiliary links.
var excludedMarkers = []string{"related:", "cache:", "webcache.", "translate.google"}

// DomainFilter decides whether a URL may become a lead. It is immutable
// and safe for concurrent use.
type DomainFilter struct {
	brands map[string]struct{}
	hosts  map[string]struct{}
}

// NewDomainFilter builds the default filter. extraHosts adds exact hosts
// or registrable domains to exclude.
func NewDomainFilter(extraHosts ...string) *DomainFilter {
	f := &DomainFilter{
		brands: make(map[string]struct{}, len(excludedBrands)),
		hosts:  make(map[string]struct{}),
	}
	for _, b := range excludedBrands {
		f.brands[b] = struct{}{}
	}
	hosts := append(cleaner.SocialHosts(), excludedDomains...)
	for _, h := range append(hosts, extraHosts...) {
		f.hosts[normalizeHost(h)] = struct{}{}
	}
	return f
}

// Excluded reports whether rawURL must not appear in the output. URLs that
// are not absolute http(s) are excluded as well.
func (f *DomainFilter) Excluded(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, m := range excludedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return true
	}
	return f.ExcludedHost(u.Hostname())
}

// ExcludedHost applies the host rules alone.
func (f *DomainFilter) ExcludedHost(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return true
	}
	if _, ok := f.hosts[host]; ok {
		return true
	}

	suffix, _ := publicsuffix.PublicSuffix(host)
	for _, s := range excludedSuffixes {
		if suffix == s || strings.HasSuffix(suffix, "."+s) {
			return true
		}
	}
	for _, label := range strings.Split(suffix, ".") {
		for _, ex := range excludedSuffixLabels {
			if label == ex {
				return true
			}
		}
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// A bare public suffix is never a business site.
		return true
	}
	if _, ok := f.hosts[registrable]; ok {
		return true
	}
	brand := strings.TrimSuffix(registrable, "."+suffix)
	_, ok := f.brands[brand]
	return ok
}

func normalizeHost(h string) string {
	h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
	return strings.TrimPrefix(h, "www.")
}

// URLKey is the de-duplication key of a result URL: scheme, "www." prefix,
// fragment and trailing slash do not distinguish two results.
func URLKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	key := normalizeHost(u.Hostname()) + strings.TrimSuffix(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

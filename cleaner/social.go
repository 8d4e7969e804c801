package cleaner

import (
	"net/url"
	"strings"
)

// socialHosts are platforms whose pages carry short, dense posts. Their
// text is judged with looser line thresholds.
var socialHosts = []string{
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"youtube.com",
	"pinterest.com",
	"threads.net",
	"wa.me",
	"whatsapp.com",
	"t.me",
	"linktr.ee",
}

// SocialHosts returns the social platform host list.
func SocialHosts() []string {
	return append([]string(nil), socialHosts...)
}

// IsSocialURL reports whether rawURL points at a known social platform.
func IsSocialURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return IsSocialHost(u.Hostname())
}

// IsSocialHost matches host and its subdomains against the social list.
func IsSocialHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, s := range socialHosts {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

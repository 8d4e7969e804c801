package serp

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/leadharvest/cleaner"
	"github.com/use-agent/leadharvest/models"
)

// Page is what one parse of a results page yields.
type Page struct {
	Entries []models.SearchResultEntry

	// Candidates counts result blocks before URL, title and domain rules.
	Candidates int
	// Excluded counts candidates dropped by the domain filter.
	Excluded int

	NoResults bool
	Challenge bool
}

// Parser extracts organic results from a captured results page. It holds
// no per-page state, so the same DOM always parses to the same Page.
type Parser struct {
	profile    Profile
	filter     *DomainFilter
	minSnippet int
}

// NewParser returns a parser for profile.
func NewParser(profile Profile, filter *DomainFilter, minSnippet int) *Parser {
	return &Parser{profile: profile, filter: filter, minSnippet: minSnippet}
}

// Parse reads rawHTML, loaded from pageURL, and returns its results in
// document order, filtered and de-duplicated.
func (p *Parser) Parse(rawHTML, pageURL string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return Page{}, fmt.Errorf("parse results page: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return Page{}, fmt.Errorf("parse results page url: %w", err)
	}

	var page Page
	page.Challenge = p.isChallenge(doc, base)
	page.NoResults = p.isNoResults(doc)

	blocks, _ := cleaner.FirstMatch(doc.Selection, p.profile.Blocks)
	if blocks == nil {
		return page, nil
	}

	seen := make(map[string]struct{})
	blocks.Each(func(_ int, block *goquery.Selection) {
		page.Candidates++

		entry, ok := p.parseBlock(block, base)
		if !ok {
			return
		}
		if p.filter.Excluded(entry.URL) {
			page.Excluded++
			return
		}
		key := URLKey(entry.URL)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		page.Entries = append(page.Entries, entry)
	})

	// Spelling and "showing results for" cards share the empty-page markup.
	if page.Candidates > 0 {
		page.NoResults = false
	}
	return page, nil
}

func (p *Parser) parseBlock(block *goquery.Selection, base *url.URL) (models.SearchResultEntry, bool) {
	links, _ := cleaner.FirstMatch(block, p.profile.Link)
	if links == nil {
		return models.SearchResultEntry{}, false
	}
	anchor := links.First()
	href, _ := anchor.Attr("href")

	target, ok := resolveResultURL(href, base)
	if !ok {
		return models.SearchResultEntry{}, false
	}

	title := cleaner.FirstText(block, p.profile.Title)
	if title == "" {
		title = cleaner.CollapseSpaces(anchor.Text())
	}
	if title == "" {
		title = firstLine(block)
	}
	if title == "" {
		return models.SearchResultEntry{}, false
	}

	return models.SearchResultEntry{
		URL:     target,
		Title:   title,
		Snippet: p.snippet(block, title, target),
	}, true
}

// snippet prefers the profile's snippet nodes, then the block text with
// the title and URL fragments removed.
func (p *Parser) snippet(block *goquery.Selection, title, target string) string {
	s := cleaner.FirstText(block, p.profile.Snippet)
	if s == "" {
		s = cleaner.CollapseSpaces(block.Text())
		s = strings.ReplaceAll(s, title, " ")
		for _, frag := range urlFragments(target) {
			s = strings.ReplaceAll(s, frag, " ")
		}
		s = strings.Trim(cleaner.CollapseSpaces(s), " ›·-|")
	}
	if utf8.RuneCountInString(s) < p.minSnippet {
		return models.SnippetNotIdentified
	}
	return s
}

func (p *Parser) isChallenge(doc *goquery.Document, base *url.URL) bool {
	for _, path := range p.profile.ChallengePaths {
		if strings.Contains(base.Path, path) {
			return true
		}
	}
	sel, _ := cleaner.FirstMatch(doc.Selection, p.profile.Challenge)
	return sel != nil
}

func (p *Parser) isNoResults(doc *goquery.Document) bool {
	for _, sel := range p.profile.NoResults {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	text := strings.ToLower(cleaner.CollapseSpaces(doc.Find("body").Text()))
	for _, phrase := range p.profile.NoResultsPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// resolveResultURL unwraps engine redirects and resolves href against the
// results page. Only absolute http(s) URLs survive; fragments are dropped.
func resolveResultURL(href string, base *url.URL) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	u, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	u = unwrapRedirect(u)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}

// unwrapRedirect follows Google's /url?q= and Bing's /ck/a?u=a1<base64>
// click-tracking wrappers.
func unwrapRedirect(u *url.URL) *url.URL {
	q := u.Query()
	switch {
	case u.Path == "/url" && strings.Contains(u.Host, "google."):
		for _, key := range []string{"q", "url"} {
			if v := q.Get(key); v != "" {
				if inner, err := url.Parse(v); err == nil && inner.IsAbs() {
					return inner
				}
			}
		}
	case strings.HasPrefix(u.Path, "/ck/a") && strings.Contains(u.Host, "bing."):
		v := q.Get("u")
		if strings.HasPrefix(v, "a1") {
			raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(v[2:], "="))
			if err == nil {
				if inner, err := url.Parse(string(raw)); err == nil && inner.IsAbs() {
					return inner
				}
			}
		}
	}
	return u
}

// urlFragments are the ways a URL tends to be displayed inside a result.
func urlFragments(target string) []string {
	u, err := url.Parse(target)
	if err != nil {
		return []string{target}
	}
	host := u.Hostname()
	frags := []string{target, strings.TrimSuffix(target, "/"), u.Scheme + "://" + host}
	frags = append(frags, host, strings.TrimPrefix(host, "www."))
	for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if seg != "" {
			frags = append(frags, "› "+seg)
		}
	}
	return frags
}

func firstLine(block *goquery.Selection) string {
	for _, line := range strings.Split(cleaner.Flatten(block), "\n") {
		if l := cleaner.CollapseSpaces(line); l != "" {
			return l
		}
	}
	return ""
}

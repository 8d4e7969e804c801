package serp

import (
	"fmt"
	"net/url"

	"github.com/use-agent/leadharvest/cleaner"
)

// Profile is the selector data for one search engine. Every list is in
// priority order; the collector and parser stay engine-agnostic.
type Profile struct {
	Name    string
	HomeURL string

	// searchURL formats a results URL for a query and zero-based offset.
	searchURL func(query string, offset int) string

	// Live-page selectors, used through scraper.Session.
	Consent          []string
	SearchBox        []string
	ResultsContainer []string
	NoResults        []string
	NextPage         []string

	// Captured-DOM strategies, used by the Parser.
	Blocks  []cleaner.Strategy
	Link    []cleaner.Strategy
	Title   []cleaner.Strategy
	Snippet []cleaner.Strategy

	// NoResultsPhrases detect an explicit empty result page by text.
	NoResultsPhrases []string
	// Challenge marks captcha or "unusual traffic" interstitials.
	Challenge []cleaner.Strategy
	// ChallengePaths in the page URL mean the same.
	ChallengePaths []string
}

// SearchURL returns the direct results URL for query starting at offset.
func (p Profile) SearchURL(query string, offset int) string {
	return p.searchURL(query, offset)
}

// Google is the default profile.
var Google = Profile{
	Name:    "google",
	HomeURL: "https://www.google.com/?hl=pt-BR",
	searchURL: func(q string, offset int) string {
		return fmt.Sprintf("https://www.google.com/search?q=%s&hl=pt-BR&num=10&start=%d", url.QueryEscape(q), offset)
	},
	Consent: []string{
		"#L2AGLb",
		`button[aria-label="Aceitar tudo"]`,
		`button[aria-label="Accept all"]`,
		`form[action*="consent"] button`,
		"#W0wltc",
	},
	SearchBox:        []string{`textarea[name="q"]`, `input[name="q"]`},
	ResultsContainer: []string{"#rso", "#search", "#res"},
	// Only the dedicated empty-result card; #topstuff .card-section also
	// holds spelling suggestions. The phrases cover the rest.
	NoResults:        []string{"div.mnr-c"},
	NextPage: []string{
		"a#pnnext",
		`a[aria-label="Próxima página"]`,
		`a[aria-label="Next page"]`,
		"td.d6cvqb:last-child a",
	},
	Blocks:  cleaner.CSSList("#rso div.g", "div.g", "#rso div.MjjYud", "#search div[data-hveid]"),
	Link:    cleaner.CSSList("a:has(h3)", "div.yuRUbf a", `a[href^="http"]`, "a[href]"),
	Title:   cleaner.CSSList("h3", `[role="heading"]`),
	Snippet: cleaner.CSSList("div.VwiC3b", "div[data-sncf]", "span.aCOpRe", "div.IsZvec"),
	NoResultsPhrases: []string{
		"não encontrou nenhum documento correspondente",
		"did not match any documents",
		"nenhum resultado encontrado",
	},
	Challenge:      cleaner.CSSList("form#captcha-form", "#recaptcha", `iframe[src*="recaptcha"]`),
	ChallengePaths: []string{"/sorry/"},
}

// Bing is the alternative profile.
var Bing = Profile{
	Name:    "bing",
	HomeURL: "https://www.bing.com/?setlang=pt-BR",
	searchURL: func(q string, offset int) string {
		return fmt.Sprintf("https://www.bing.com/search?q=%s&setlang=pt-BR&first=%d", url.QueryEscape(q), offset+1)
	},
	Consent:          []string{"#bnp_btn_accept", `button[aria-label="Aceitar"]`, `button[aria-label="Accept"]`},
	SearchBox:        []string{`textarea[name="q"]`, `input[name="q"]`, "#sb_form_q"},
	ResultsContainer: []string{"#b_results"},
	NoResults:        []string{"li.b_no"},
	NextPage: []string{
		"a.sb_pagN",
		`a[title="Próxima página"]`,
		`a[title="Next page"]`,
	},
	Blocks:  cleaner.CSSList("#b_results > li.b_algo", "li.b_algo"),
	Link:    cleaner.CSSList("h2 a", "a.tilk", `a[href^="http"]`),
	Title:   cleaner.CSSList("h2"),
	Snippet: cleaner.CSSList("div.b_caption p", "p.b_lineclamp2", "p.b_lineclamp3", "p.b_paractl", ".b_algoSlug"),
	NoResultsPhrases: []string{
		"não há resultados para",
		"there are no results for",
	},
	Challenge:      cleaner.CSSList("#b_captcha", `iframe[src*="challenges.cloudflare.com"]`),
	ChallengePaths: []string{"/challenge"},
}

// ProfileByName resolves a configured engine name.
func ProfileByName(name string) (Profile, error) {
	switch name {
	case "", "google":
		return Google, nil
	case "bing":
		return Bing, nil
	default:
		return Profile{}, fmt.Errorf("unknown search engine %q", name)
	}
}

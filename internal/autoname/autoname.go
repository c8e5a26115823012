// Package autoname implements the deterministic group-name suggester
// invoked by the scheduler's phase-7 auto-naming (spec.md §4.7, §9 Open
// Question 1). Grounded on the teacher's internal/redact: a small, pure,
// data-table-driven string transform with no hidden state.
package autoname

import (
	"net/url"
	"sort"
	"strings"
)

// TabInput is the minimal view of a tab the suggester needs.
type TabInput struct {
	Title string
	URL   string
}

// stopwords are dropped before scoring: generic words that appear in
// nearly every page title and carry no group-identifying signal.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"at": true, "by": true, "from": true, "new": true, "home": true,
	"welcome": true, "page": true, "untitled": true, "login": true,
	"sign": true, "in:": true, "tab": true, "tabs": true,
}

// Suggest returns a 1-2 word candidate group name for tabs, or "" if no
// usable signal survives filtering (callers fall back to leaving the
// group unnamed for another cycle). Pure function: same input, same
// output, no clock or randomness involved.
func Suggest(tabs []TabInput) string {
	unigrams := make(map[string]int)
	bigrams := make(map[string]int)
	hostCount := make(map[string]int)

	for _, t := range tabs {
		tokens := tokenize(t.Title)
		for i, tok := range tokens {
			unigrams[tok]++
			if i > 0 {
				bigrams[tokens[i-1]+" "+tok]++
			}
		}
		if host := hostname(t.URL); host != "" {
			hostCount[host]++
		}
	}

	if best := bestBigram(bigrams); best != "" {
		return best
	}
	if best := bestUnigram(unigrams); best != "" {
		return titleCase(best)
	}
	return bestHostLabel(hostCount)
}

func tokenize(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func bestBigram(bigrams map[string]int) string {
	type entry struct {
		bigram string
		count  int
	}
	var entries []entry
	for bg, count := range bigrams {
		if count < 2 { // a bigram must recur to count as signal
			continue
		}
		entries = append(entries, entry{bg, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].bigram < entries[j].bigram
	})
	if len(entries) == 0 {
		return ""
	}
	return titleCase(entries[0].bigram)
}

func bestUnigram(unigrams map[string]int) string {
	type entry struct {
		tok   string
		count int
	}
	var entries []entry
	for tok, count := range unigrams {
		entries = append(entries, entry{tok, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].tok < entries[j].tok
	})
	if len(entries) == 0 {
		return ""
	}
	return entries[0].tok
}

func bestHostLabel(hostCount map[string]int) string {
	type entry struct {
		host  string
		count int
	}
	var entries []entry
	for h, c := range hostCount {
		entries = append(entries, entry{h, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].host < entries[j].host
	})
	if len(entries) == 0 {
		return ""
	}
	return titleCase(strings.TrimSuffix(entries[0].host, ".com"))
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Hostname()
	host = strings.TrimPrefix(host, "www.")
	parts := strings.Split(host, ".")
	if len(parts) > 0 {
		return parts[0]
	}
	return host
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Package funnel derives hard metadata constraints from the raw user
// utterance: whitelisted company codes and names, news sentiment and
// explicit years.
package funnel

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sweetpotato0/esg-rag/config"
	"github.com/sweetpotato0/esg-rag/rag/document"
	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
)

var (
	reCode  = regexp.MustCompile(`\d{4}`)
	reHan   = regexp.MustCompile(`\p{Han}{2,12}`)
	reYears = regexp.MustCompile(`(20\d{2})(?:\s*[-~–至到]\s*(20\d{2}))?`)
)

// Hints are the whitelisted company mentions of an utterance, in order of
// first appearance.
type Hints struct {
	Codes []string
	Names []string
}

// Empty reports whether no company was recognised.
func (h Hints) Empty() bool { return len(h.Codes) == 0 && len(h.Names) == 0 }

// Funnel holds the read-only lookup tables.
type Funnel struct {
	codes      map[string]string
	names      map[string]struct{}
	suffixes   []string
	sentiments []config.SentimentBucket
}

// New builds a funnel from the domain tables.
func New(d config.Domain) *Funnel {
	f := &Funnel{
		codes:      make(map[string]string, len(d.Companies)),
		names:      make(map[string]struct{}, len(d.Companies)),
		suffixes:   append([]string(nil), d.CompanySuffixes...),
		sentiments: d.Sentiments,
	}
	for _, c := range d.Companies {
		f.codes[c.Code] = c.Name
		f.names[c.Name] = struct{}{}
	}
	return f
}

// KnownCode reports whether code is whitelisted.
func (f *Funnel) KnownCode(code string) bool {
	_, ok := f.codes[code]
	return ok
}

// KnownName reports whether name is whitelisted.
func (f *Funnel) KnownName(name string) bool {
	_, ok := f.names[name]
	return ok
}

// CompanyHints extracts whitelisted codes and names from text. Codes must
// stand alone as four digits; names must equal a whole run of Han
// characters.
func (f *Funnel) CompanyHints(text string) Hints {
	var h Hints
	seen := make(map[string]struct{})
	add := func(dst *[]string, v string) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		*dst = append(*dst, v)
	}

	for _, loc := range reCode.FindAllStringIndex(text, -1) {
		if !bounded(text, loc[0], loc[1]) {
			continue
		}
		if code := text[loc[0]:loc[1]]; f.KnownCode(code) {
			add(&h.Codes, code)
		}
	}
	for _, run := range reHan.FindAllString(text, -1) {
		if f.KnownName(run) {
			add(&h.Names, run)
		}
	}
	return h
}

// SuffixCandidates returns the Han runs that look like company names,
// either whitelisted or ending in a corporate suffix. The list is broader
// than CompanyHints and must never be used to build a filter.
func (f *Funnel) SuffixCandidates(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, run := range reHan.FindAllString(text, -1) {
		if _, ok := seen[run]; ok {
			continue
		}
		if f.KnownName(run) || f.hasSuffix(run) {
			seen[run] = struct{}{}
			out = append(out, run)
		}
	}
	return out
}

func (f *Funnel) hasSuffix(s string) bool {
	for _, suf := range f.suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// Sentiment returns the label of the first bucket whose keywords occur in
// text, compared case-insensitively.
func (f *Funnel) Sentiment(text string) (string, bool) {
	s := strings.ToLower(text)
	for _, b := range f.sentiments {
		for _, kw := range b.Keywords {
			if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
				return b.Label, true
			}
		}
	}
	return "", false
}

// BuildFilter derives the company and sentiment constraints of text. Codes
// take priority over names. The result is empty when nothing matched.
func (f *Funnel) BuildFilter(mode document.Mode, text string) searchfilter.Filter {
	var flt searchfilter.Filter

	h := f.CompanyHints(text)
	switch {
	case len(h.Codes) > 0:
		flt = flt.With(constraint(document.KeyCompanyCode, h.Codes))
	case len(h.Names) > 0:
		flt = flt.With(constraint(document.KeyCompanyName, h.Names))
	}

	if mode == document.ModeNews {
		if label, ok := f.Sentiment(text); ok {
			flt = flt.Pin(document.KeySentiment, label)
		}
	}
	return flt
}

// Combined returns the filter used for retrieval together with the years
// that must be covered. Years only constrain ESG queries.
func (f *Funnel) Combined(mode document.Mode, text string) (searchfilter.Filter, []int) {
	flt := ModeFilter(mode).And(f.BuildFilter(mode, text))
	if mode != document.ModeESG {
		return flt, nil
	}
	years := ExtractYears(text)
	if len(years) > 0 {
		vals := make([]any, len(years))
		for i, y := range years {
			vals[i] = y
		}
		flt = flt.With(searchfilter.In(document.KeyYear, vals...))
	}
	return flt, years
}

// ModeFilter pins doc_type for esg and news; all is unconstrained.
func ModeFilter(mode document.Mode) searchfilter.Filter {
	if dt := mode.DocType(); dt != "" {
		return searchfilter.New(searchfilter.Equal(document.KeyDocType, string(dt)))
	}
	return searchfilter.Filter{}
}

// ExtractYears finds years in [2000, 2099], expanding ranges such as
// "2021-2023" or "2021至2023" inclusively. The result is sorted and unique.
func ExtractYears(text string) []int {
	set := make(map[int]struct{})
	for _, m := range reYears.FindAllStringSubmatch(text, -1) {
		y1, _ := strconv.Atoi(m[1])
		if m[2] == "" {
			set[y1] = struct{}{}
			continue
		}
		y2, _ := strconv.Atoi(m[2])
		if y2 < y1 {
			set[y1] = struct{}{}
			continue
		}
		for y := y1; y <= y2; y++ {
			set[y] = struct{}{}
		}
	}

	out := make([]int, 0, len(set))
	for y := range set {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

func constraint(field string, values []string) searchfilter.Condition {
	if len(values) == 1 {
		return searchfilter.Equal(field, values[0])
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return searchfilter.In(field, vals...)
}

// bounded reports whether text[i:j] is not glued to a neighbouring letter,
// digit or underscore.
func bounded(text string, i, j int) bool {
	if r, _ := utf8.DecodeLastRuneInString(text[:i]); i > 0 && isWord(r) {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(text[j:]); j < len(text) && isWord(r) {
		return false
	}
	return true
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

package preprocess

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
	reHTMLTag  = regexp.MustCompile(`<(?i:p|div|br|span|table|tr|td|li|ul|h[1-6]|a)\b[^>]*>`)

	blockElements = "p,div,li,ul,ol,h1,h2,h3,h4,h5,h6,tr,section,article,header,footer,nav,blockquote,pre"

	ligatures = strings.NewReplacer("ﬁ", "fi", "ﬂ", "fl", " ", " ", "　", " ")
)

// CleanBasic strips control characters, collapses runs of spaces and
// limits blank lines to one.
func CleanBasic(text string) string {
	if text == "" {
		return ""
	}

	b := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	b = ligatures.Replace(b)
	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")

	return strings.TrimSpace(b)
}

// LooksLikeHTML reports whether s carries block or inline HTML markup.
func LooksLikeHTML(s string) bool {
	return reHTMLTag.MatchString(s)
}

// HTMLToText flattens an HTML fragment to text. Every text node is kept;
// block elements end a line, headings are bracketed, list items get a dash
// and tables become pipe rows. Only script and style content is dropped.
func HTMLToText(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	doc.Find("script,style").Remove()

	doc.Find("table").Each(func(i int, s *goquery.Selection) {
		s.ReplaceWithHtml("<div>" + html.EscapeString(parseTable(s)) + "</div>")
	})
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("【").AppendHtml("】")
	})
	doc.Find("li").PrependHtml("- ")
	doc.Find(blockElements).AppendHtml("\n")

	lines := strings.Split(doc.Text(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n"), nil
}

func parseTable(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(j int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

// CleanPassage prepares passage content for the answer context. HTML
// fragments are flattened to text first; on parse failure the raw text is
// cleaned as is. No text is removed beyond markup and control characters.
func CleanPassage(content string) string {
	if LooksLikeHTML(content) {
		if text, err := HTMLToText(content); err == nil {
			content = text
		}
	}
	return CleanBasic(content)
}

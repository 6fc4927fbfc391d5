package scrape

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// TextStrategy extracts the credential text from a page.
type TextStrategy interface {
	Name() string
	Extract(doc *goquery.Document) (string, bool)
}

// SelectorStrategy takes the text of the first element matching a CSS
// selector.
type SelectorStrategy struct {
	Selector string
}

func (s SelectorStrategy) Name() string {
	return "selector(" + s.Selector + ")"
}

func (s SelectorStrategy) Extract(doc *goquery.Document) (string, bool) {
	sel := doc.Find(s.Selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	text := strings.TrimSpace(sel.Text())
	return text, text != ""
}

// PatternStrategy scans every Tag element and takes the first text that
// is alphanumeric and between Min and Max characters long.
type PatternStrategy struct {
	Tag string
	Min int
	Max int
}

func (s PatternStrategy) Name() string {
	return "pattern(" + s.Tag + ")"
}

func (s PatternStrategy) Extract(doc *goquery.Document) (string, bool) {
	found := ""
	doc.Find(s.Tag).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if s.qualifies(text) {
			found = text
			return false
		}
		return true
	})
	return found, found != ""
}

func (s PatternStrategy) qualifies(text string) bool {
	n := utf8.RuneCountInString(text)
	if n == 0 || n < s.Min || n > s.Max {
		return false
	}
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// DefaultStrategies is the structural selector first, then the pattern
// fallback over every code element.
func DefaultStrategies() []TextStrategy {
	return []TextStrategy{
		SelectorStrategy{Selector: "code.font-mono"},
		PatternStrategy{Tag: "code", Min: 5, Max: 15},
	}
}

// Package render turns transcript messages into display output.
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/togethr/internal/domain"
)

var boldPattern = regexp.MustCompile(`\*\*([^*]*)\*\*`)

// Span is a run of text with uniform emphasis.
type Span struct {
	Text string `json:"text"`
	Bold bool   `json:"bold,omitempty"`
}

// Line is one visual line of a message.
type Line []Span

// ParseText splits s on line breaks and marks **bold** runs. Unmatched
// markers are kept as literal text.
func ParseText(s string) []Line {
	raw := strings.Split(s, "\n")
	lines := make([]Line, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, ParseLine(l))
	}
	return lines
}

// ParseLine marks **bold** runs within a single line.
func ParseLine(line string) Line {
	var spans Line
	pos := 0
	for _, m := range boldPattern.FindAllStringSubmatchIndex(line, -1) {
		if m[0] > pos {
			spans = append(spans, Span{Text: line[pos:m[0]]})
		}
		if inner := line[m[2]:m[3]]; inner != "" {
			spans = append(spans, Span{Text: inner, Bold: true})
		}
		pos = m[1]
	}
	if pos < len(line) {
		spans = append(spans, Span{Text: line[pos:]})
	}
	return spans
}

// Plain concatenates the spans of a line without markup.
func (l Line) Plain() string {
	var b strings.Builder
	for _, s := range l {
		b.WriteString(s.Text)
	}
	return b.String()
}

// FormatRating renders a star rating, or "unrated" for zero.
func FormatRating(r float64) string {
	if r <= 0 {
		return "unrated"
	}
	return strconv.FormatFloat(r, 'f', -1, 64) + "/5"
}

// FormatPriceRange renders "lo – hi", a single price, or "n/a".
func FormatPriceRange(p domain.Product) string {
	lo, hi, ok := p.PriceRange()
	if !ok {
		return "n/a"
	}
	if lo == hi {
		return fmt.Sprintf("%.2f", lo)
	}
	return fmt.Sprintf("%.2f – %.2f", lo, hi)
}

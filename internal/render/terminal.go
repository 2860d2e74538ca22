package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/togethr/internal/domain"
	"github.com/fatih/color"
)

const indent = "    "

// Terminal writes transcripts to a terminal.
type Terminal struct {
	w     io.Writer
	bold  *color.Color
	user  *color.Color
	ai    *color.Color
	muted *color.Color
}

// ColorMode selects whether emphasis is emitted as ANSI escapes.
type ColorMode int

const (
	// ColorAuto follows the terminal capabilities detected by fatih/color.
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// ParseColorMode maps "auto", "always" or "never" to a ColorMode.
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("unknown color mode %q", s)
	}
}

// NewTerminal creates a renderer writing to w.
func NewTerminal(w io.Writer, mode ColorMode) *Terminal {
	t := &Terminal{
		w:     w,
		bold:  color.New(color.Bold),
		user:  color.New(color.FgHiBlue, color.Bold),
		ai:    color.New(color.FgHiGreen, color.Bold),
		muted: color.New(color.Faint),
	}
	for _, c := range []*color.Color{t.bold, t.user, t.ai, t.muted} {
		switch mode {
		case ColorAlways:
			c.EnableColor()
		case ColorNever:
			c.DisableColor()
		}
	}
	return t
}

// Transcript writes every message in order.
func (t *Terminal) Transcript(messages []domain.Message) error {
	for _, m := range messages {
		if err := t.Message(m); err != nil {
			return err
		}
	}
	return nil
}

// Message writes a single transcript entry.
func (t *Terminal) Message(m domain.Message) error {
	doc := DocumentMessage(m)
	if m.Sender == domain.SenderUser {
		if _, err := io.WriteString(t.w, t.user.Sprint("You: ")); err != nil {
			return err
		}
		_, err := fmt.Fprintln(t.w, m.Content.Text)
		return err
	}

	if _, err := io.WriteString(t.w, t.ai.Sprint("AI: ")); err != nil {
		return err
	}
	if doc.Kind == domain.ContentProducts {
		return t.cards(doc.Cards)
	}
	return t.lines(doc.Lines)
}

// Loading writes the placeholder shown while a send is in flight.
func (t *Terminal) Loading() error {
	_, err := io.WriteString(t.w, t.muted.Sprint("AI is typing…")+"\n")
	return err
}

func (t *Terminal) lines(lines []Line) error {
	for i, line := range lines {
		if i > 0 {
			if _, err := io.WriteString(t.w, indent); err != nil {
				return err
			}
		}
		for _, s := range line {
			var err error
			if s.Bold {
				_, err = io.WriteString(t.w, t.bold.Sprint(s.Text))
			} else {
				_, err = io.WriteString(t.w, s.Text)
			}
			if err != nil {
				return err
			}
		}
		if _, err := io.WriteString(t.w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

func (t *Terminal) cards(cards []Card) error {
	if len(cards) == 0 {
		_, err := io.WriteString(t.w, t.muted.Sprint("no products found")+"\n")
		return err
	}
	noun := "products"
	if len(cards) == 1 {
		noun = "product"
	}
	if _, err := fmt.Fprintf(t.w, "%d %s\n", len(cards), noun); err != nil {
		return err
	}
	for i, c := range cards {
		if _, err := fmt.Fprintf(t.w, "%s[%d/%d] %s\n", indent, i+1, len(cards), t.bold.Sprint(c.Title)); err != nil {
			return err
		}
		details := [][2]string{{"Rating: ", c.Rating}, {"Price:  ", c.PriceRange}}
		if c.Image != "" {
			details = append(details, [2]string{"Image:  ", c.Image})
		}
		for _, link := range c.SellerLinks {
			details = append(details, [2]string{"Buy:    ", link})
		}
		for _, d := range details {
			if _, err := fmt.Fprintf(t.w, "%s%s%s%s\n", indent, indent, d[0], d[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

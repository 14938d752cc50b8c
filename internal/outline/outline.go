// Package outline turns tender (RC) text into a numbered memo outline.
package outline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Outline struct {
	Chapters []Chapter `json:"chapters"`
}

type Chapter struct {
	Title    string    `json:"title"`
	Points   *float64  `json:"points,omitempty"`
	Sections []Section `json:"sections"`
}

type Section struct {
	Title  string   `json:"title"`
	Points *float64 `json:"points,omitempty"`
	Items  []Item   `json:"items"`
}

type Item struct {
	Title  string   `json:"title"`
	Points *float64 `json:"points,omitempty"`
}

const itemIndent = "      "

var (
	numbered    = regexp.MustCompile(`^(\d+(?:\.\d+)*)(\.?)\s+(.+)$`)
	pointsTail  = regexp.MustCompile(`\((\d+(?:[.,]\d+)?)\s*(?:points?|pts?)\s*\)`)
	bulletStrip = strings.NewReplacer("**", "", "__", "")
)

// Parse reads the numbered outline format:
//
//	1. Chapter (20 points)
//	   1.1. Section
//	      1.1.1. Item
//
// Chapters and sections are renumbered in reading order. A parenthesised suffix is
// dropped from titles; when it carries a point count that count is kept. Sections
// before the first chapter and items before the first section are ignored.
func Parse(text string) Outline {
	out := Outline{Chapters: []Chapter{}}
	var chapter *Chapter
	var section *Section
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(bulletStrip.Replace(raw))
		if line == "" {
			continue
		}
		depth, rest := 0, line
		if m := numbered.FindStringSubmatch(line); m != nil {
			d := strings.Count(m[1], ".") + 1
			// a bare "2024 ..." is prose, not a chapter
			if d > 1 || m[2] == "." {
				depth, rest = d, m[3]
			}
		}
		if depth == 0 && strings.HasPrefix(expandTabs(raw), itemIndent) {
			depth = 3
			rest = strings.TrimLeft(line, "-*• ")
		}
		if depth == 0 {
			continue
		}
		title, points := splitTitle(rest)
		if title == "" {
			continue
		}
		switch depth {
		case 1:
			out.Chapters = append(out.Chapters, Chapter{
				Title:    fmt.Sprintf("%d. %s", len(out.Chapters)+1, title),
				Points:   points,
				Sections: []Section{},
			})
			chapter = &out.Chapters[len(out.Chapters)-1]
			section = nil
		case 2:
			if chapter == nil {
				continue
			}
			chapter.Sections = append(chapter.Sections, Section{
				Title:  fmt.Sprintf("%d.%d. %s", len(out.Chapters), len(chapter.Sections)+1, title),
				Points: points,
				Items:  []Item{},
			})
			section = &chapter.Sections[len(chapter.Sections)-1]
		default:
			if section == nil {
				continue
			}
			section.Items = append(section.Items, Item{
				Title:  fmt.Sprintf("%d.%d.%d. %s", len(out.Chapters), len(chapter.Sections), len(section.Items)+1, title),
				Points: points,
			})
		}
	}
	return out
}

func splitTitle(s string) (string, *float64) {
	var points *float64
	if m := pointsTail.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64); err == nil {
			points = &v
		}
	}
	if i := strings.Index(s, " ("); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ":")), points
}

func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", "    ")
}

// Render prints the outline back in the format Parse reads, so it can be attached to a
// document's content.
func Render(o Outline) string {
	var b strings.Builder
	for i, c := range o.Chapters {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Title + pointsSuffix(c.Points) + "\n")
		for _, s := range c.Sections {
			b.WriteString("   " + s.Title + pointsSuffix(s.Points) + "\n")
			for _, it := range s.Items {
				b.WriteString(itemIndent + it.Title + pointsSuffix(it.Points) + "\n")
			}
		}
	}
	return b.String()
}

func pointsSuffix(p *float64) string {
	if p == nil {
		return ""
	}
	return " (" + strconv.FormatFloat(*p, 'f', -1, 64) + " points)"
}

// Heading is a numbered heading found in raw document text.
type Heading struct {
	Number string `json:"number"`
	Title  string `json:"title"`
	Level  int    `json:"level"`
}

var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d+\.\d+\.\d+)\s+(.+)$`),
	regexp.MustCompile(`^(\d+\.\d+)\s+(.+)$`),
	regexp.MustCompile(`^(\d+)\s+(.+)$`),
}

// Headings lists "1 Title", "1.1 Title" and "1.1.1 Title" lines of extracted PDF text.
func Headings(text string) []Heading {
	var res []Heading
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, p := range headingPatterns {
			if m := p.FindStringSubmatch(line); m != nil {
				res = append(res, Heading{Number: m[1], Title: strings.TrimSpace(m[2]), Level: strings.Count(m[1], ".") + 1})
				break
			}
		}
	}
	return res
}

// FromHeadings builds an outline straight from document headings. It is the fallback
// when no language model is configured.
func FromHeadings(hs []Heading) Outline {
	var b strings.Builder
	for _, h := range hs {
		switch h.Level {
		case 1:
			b.WriteString(h.Number + ". " + h.Title + "\n")
		case 2:
			b.WriteString("   " + h.Number + ". " + h.Title + "\n")
		default:
			b.WriteString(itemIndent + h.Number + ". " + h.Title + "\n")
		}
	}
	return Parse(b.String())
}

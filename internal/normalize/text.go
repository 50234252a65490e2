package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Ellipsis is appended where Truncate cut text.
const Ellipsis = "…"

// Segment is a run of body text or a single image.
type Segment struct {
	Text  string
	Image string
}

// IsImage reports whether the segment is an image marker.
func (s Segment) IsImage() bool { return s.Image != "" }

// PlainText extracts newline-separated text with scripts, styles and images removed.
func PlainText(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}
	doc.Find("script, style, img").Remove()

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(parts, "\n")
}

// Split cuts a body into alternating text and image segments, dropping blank text.
func Split(body string) []Segment {
	var out []Segment
	pos := 0
	for _, m := range markerPattern.FindAllStringSubmatchIndex(body, -1) {
		if text := strings.TrimSpace(body[pos:m[0]]); text != "" {
			out = append(out, Segment{Text: text})
		}
		out = append(out, Segment{Image: body[m[2]:m[3]]})
		pos = m[1]
	}
	if text := strings.TrimSpace(body[pos:]); text != "" {
		out = append(out, Segment{Text: text})
	}
	return out
}

// ReplaceMarkers rewrites every image marker with render(url).
func ReplaceMarkers(body string, render func(url string) string) string {
	return markerPattern.ReplaceAllStringFunc(body, func(m string) string {
		sub := markerPattern.FindStringSubmatch(m)
		return render(sub[1])
	})
}

// Images lists the marker URLs in body order.
func Images(body string) []string {
	var out []string
	for _, m := range markerPattern.FindAllStringSubmatch(body, -1) {
		out = append(out, m[1])
	}
	return out
}

// Truncate limits the body's text to limit runes. Markers are never cut; markers past the
// cut are kept after the ellipsis so no image is lost. limit <= 0 disables truncation.
func Truncate(body string, limit int) string {
	if limit <= 0 {
		return body
	}
	textRunes := utf8.RuneCountInString(markerPattern.ReplaceAllString(body, ""))
	if textRunes <= limit {
		return body
	}

	var b strings.Builder
	var tail []string
	budget := limit
	pos := 0
	cut := false
	emitText := func(text string) {
		if cut {
			return
		}
		if n := utf8.RuneCountInString(text); n <= budget {
			b.WriteString(text)
			budget -= n
			return
		}
		runes := []rune(text)
		b.WriteString(strings.TrimRight(string(runes[:budget]), " \n"))
		b.WriteString(Ellipsis)
		budget = 0
		cut = true
	}
	for _, m := range markerPattern.FindAllStringIndex(body, -1) {
		emitText(body[pos:m[0]])
		if cut {
			tail = append(tail, body[m[0]:m[1]])
		} else {
			b.WriteString(body[m[0]:m[1]])
		}
		pos = m[1]
	}
	emitText(body[pos:])
	for _, marker := range tail {
		b.WriteString("\n")
		b.WriteString(marker)
	}
	return b.String()
}

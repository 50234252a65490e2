// Package normalize turns forum post HTML into markdown with inline image markers.
package normalize

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ImageAlt is the alt text of every inline image marker.
const ImageAlt = "图片"

// Removed before traversal. .aimg_tip is the Discuz attachment download popup.
const stripSelector = "script, style, object, embed, iframe, noscript, .aimg_tip"

var (
	blockTags = map[string]bool{
		"p": true, "div": true, "tr": true, "td": true, "th": true, "li": true,
		"blockquote": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"ul": true, "ol": true, "table": true, "pre": true,
	}
	emphasisTags = map[string]bool{"strong": true, "b": true, "em": true, "i": true}

	decorativePatterns = []string{"smilies", "static/image/smiley", "static/image/common"}
	staticImageExts    = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

	inlineSpace   = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	spacedNewline = regexp.MustCompile(` *\n *`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
	markerPattern = regexp.MustCompile(`!\[` + ImageAlt + `\]\(([^)\s]+)\)`)
)

// Marker renders the inline placeholder for an image.
func Marker(u string) string {
	return fmt.Sprintf("![%s](%s)", ImageAlt, u)
}

// Normalizer converts post HTML relative to one forum origin.
type Normalizer struct {
	base *url.URL
}

// New builds a Normalizer resolving relative URLs against baseURL.
func New(baseURL string) (*Normalizer, error) {
	raw := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/"
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse forum base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("forum base url %q must be absolute", baseURL)
	}
	return &Normalizer{base: u}, nil
}

// Normalize renders src as markdown and returns the de-duplicated image URLs in body order.
func (n *Normalizer) Normalize(src string) (string, []string) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src), nil
	}
	doc.Find(stripSelector).Remove()

	r := &renderer{n: n, seen: map[string]bool{}}
	for _, root := range doc.Find("body").Nodes {
		r.children(root)
	}
	return finish(r.out.String()), r.images
}

// markerUnsafe escapes the characters that would end an image marker early.
var markerUnsafe = strings.NewReplacer(" ", "%20", "\t", "%09", "\n", "%0A", "\r", "%0D", "(", "%28", ")", "%29")

// Resolve cleans raw and makes it absolute against the forum origin. The result is safe
// to embed in an image marker.
func (n *Normalizer) Resolve(raw string) string {
	return markerUnsafe.Replace(n.resolve(raw))
}

func (n *Normalizer) resolve(raw string) string {
	cleaned := CleanImageURL(raw)
	if cleaned == "" {
		return ""
	}
	if strings.HasPrefix(cleaned, "//") {
		return "https:" + cleaned
	}
	ref, err := url.Parse(cleaned)
	if err != nil {
		return cleaned
	}
	if ref.IsAbs() {
		return cleaned
	}
	return n.base.ResolveReference(ref).String()
}

// IsDecorative reports smilies and theme chrome that never count as post images.
func IsDecorative(src string) bool {
	lower := strings.ToLower(src)
	for _, p := range decorativePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// CleanImageURL strips stray trailing punctuation and resize-proxy query strings.
// The query survives when it is load-bearing: it contains mod=image, or the path does
// not end in a static image file.
func CleanImageURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), `>"'<;,`)
	path, query, ok := strings.Cut(u, "?")
	if !ok {
		return u
	}
	if strings.Contains(query, "mod=image") || !isStaticImagePath(path) {
		return u
	}
	return path
}

func isStaticImagePath(path string) bool {
	seg := path
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	seg = strings.ToLower(seg)
	for _, ext := range staticImageExts {
		if strings.HasSuffix(seg, ext) {
			return true
		}
	}
	return false
}

type renderer struct {
	n      *Normalizer
	out    bytes.Buffer
	images []string
	seen   map[string]bool
}

func (r *renderer) children(node *html.Node) {
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		r.node(c)
	}
}

func (r *renderer) node(node *html.Node) {
	switch node.Type {
	case html.TextNode:
		r.text(node.Data)
		return
	case html.ElementNode:
	default:
		r.children(node)
		return
	}

	tag := node.Data
	switch {
	case tag == "br":
		r.out.WriteByte('\n')
	case tag == "img":
		r.image(node)
	case tag == "a":
		r.anchor(node)
	case emphasisTags[tag] || isColored(node):
		r.bold(node)
	case tag == "li":
		r.newline()
		r.out.WriteString("- ")
		r.children(node)
		r.newline()
	case blockTags[tag]:
		r.children(node)
		r.newline()
	default:
		r.children(node)
	}
}

func (r *renderer) text(data string) {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	data = inlineSpace.ReplaceAllString(data, " ")
	data = spacedNewline.ReplaceAllString(data, "\n")
	if r.atLineStart() {
		data = strings.TrimPrefix(data, "\n")
		data = strings.TrimLeft(data, " ")
	}
	r.out.WriteString(data)
}

func (r *renderer) image(node *html.Node) {
	src := firstAttr(node, "zoomfile", "file", "src")
	if src == "" || IsDecorative(src) {
		return
	}
	resolved := r.n.Resolve(src)
	if resolved == "" || r.seen[resolved] {
		return
	}
	r.seen[resolved] = true
	r.images = append(r.images, resolved)
	r.newline()
	r.out.WriteString(Marker(resolved))
	r.out.WriteByte('\n')
}

func (r *renderer) anchor(node *html.Node) {
	href := strings.TrimSpace(attr(node, "href"))
	start := r.out.Len()
	r.children(node)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return
	}
	inner := r.out.String()[start:]
	if markerPattern.MatchString(inner) {
		return
	}
	r.out.Truncate(start)
	label := strings.TrimSpace(strings.ReplaceAll(inner, "\n", " "))
	if label == "" {
		return
	}
	fmt.Fprintf(&r.out, "[%s](%s)", label, r.n.resolveLink(href))
}

func (r *renderer) bold(node *html.Node) {
	start := r.out.Len()
	r.children(node)
	inner := r.out.String()[start:]
	core := strings.TrimSpace(inner)
	if core == "" || markerPattern.MatchString(inner) || strings.HasPrefix(core, "**") {
		return
	}
	lead := inner[:strings.Index(inner, core)]
	trail := inner[len(lead)+len(core):]
	r.out.Truncate(start)
	r.out.WriteString(lead + "**" + core + "**" + trail)
}

func (r *renderer) newline() {
	if !r.atLineStart() {
		r.out.WriteByte('\n')
	}
}

func (r *renderer) atLineStart() bool {
	b := r.out.Bytes()
	return len(b) == 0 || b[len(b)-1] == '\n'
}

func (n *Normalizer) resolveLink(href string) string {
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	ref, err := url.Parse(href)
	if err != nil || ref.IsAbs() {
		return href
	}
	return n.base.ResolveReference(ref).String()
}

func isColored(node *html.Node) bool {
	switch node.Data {
	case "font":
		return attr(node, "color") != ""
	case "span":
		return strings.Contains(strings.ToLower(attr(node, "style")), "color")
	}
	return false
}

func attr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func firstAttr(node *html.Node, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(attr(node, k)); v != "" {
			return v
		}
	}
	return ""
}

func finish(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

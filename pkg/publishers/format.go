package publishers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/normalize"
)

const (
	defaultSubject = "新动态"
	brand          = "DiscuzSentinel"
	timeLayout     = "2006-01-02 15:04:05"
)

var cst = time.FixedZone("CST", 8*3600)

func subjectOf(p domain.Post) string {
	if s := strings.TrimSpace(p.Subject); s != "" {
		return s
	}
	return defaultSubject
}

func metaLine(p domain.Post) string {
	return fmt.Sprintf("**作者**: %s  **时间**: %s", p.Author, p.PostedAt)
}

func sourceLink(p domain.Post) string {
	if p.SourceURL == "" {
		return ""
	}
	return fmt.Sprintf("[🔗 查看原帖](%s)", p.SourceURL)
}

// markdownMessage renders the shared heading/metadata/body/link layout.
func markdownMessage(p domain.Post, body string) string {
	var b strings.Builder
	b.WriteString("### ")
	b.WriteString(subjectOf(p))
	b.WriteString("\n")
	b.WriteString(metaLine(p))
	if body = strings.TrimSpace(body); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	if link := sourceLink(p); link != "" {
		b.WriteString("\n\n")
		b.WriteString(link)
	}
	return b.String()
}

// rehostImages maps each source URL in body to its rehosted form.
func rehostImages(ctx context.Context, r Rehoster, body string, native bool) map[string]domain.RehostedImage {
	srcs := normalize.Images(body)
	out := make(map[string]domain.RehostedImage, len(srcs))
	if len(srcs) == 0 {
		return out
	}
	if r == nil {
		for _, src := range srcs {
			out[src] = domain.RehostedImage{SourceURL: src, HostedURL: src}
		}
		return out
	}
	for _, img := range r.RehostAll(ctx, srcs, native) {
		out[img.SourceURL] = img
	}
	return out
}

func lookupImage(images map[string]domain.RehostedImage, src string) domain.RehostedImage {
	if img, ok := images[src]; ok {
		return img
	}
	return domain.RehostedImage{SourceURL: src, HostedURL: src}
}

package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	body := "开头\n" + Marker("https://a/1.png") + "\n中间\n" + Marker("https://a/2.png")
	segs := Split(body)
	assert.Equal(t, []Segment{
		{Text: "开头"},
		{Image: "https://a/1.png"},
		{Text: "中间"},
		{Image: "https://a/2.png"},
	}, segs)
	assert.True(t, segs[1].IsImage())
	assert.Equal(t, []string{"https://a/1.png", "https://a/2.png"}, Images(body))
}

func TestReplaceMarkers(t *testing.T) {
	body := "x " + Marker("https://a/1.png")
	got := ReplaceMarkers(body, func(u string) string { return "[" + u + "]" })
	assert.Equal(t, "x [https://a/1.png]", got)
}

func TestTruncateKeepsMarkersWhole(t *testing.T) {
	marker := Marker("https://a/1.png")
	body := "一二三" + marker + "四五六七八九"

	assert.Equal(t, body, Truncate(body, 0))
	assert.Equal(t, body, Truncate(body, 9))

	got := Truncate(body, 5)
	assert.Equal(t, "一二三"+marker+"四五"+Ellipsis, got)

	got = Truncate(body, 2)
	assert.Equal(t, "一二"+Ellipsis+"\n"+marker, got)
	assert.Equal(t, 1, strings.Count(got, "![图片]("))
}

func TestPlainText(t *testing.T) {
	got := PlainText(`<div>a<script>s()</script><img src="x.png"><p> b </p><style>.c{}</style></div>`)
	assert.Equal(t, "a\nb", got)
}

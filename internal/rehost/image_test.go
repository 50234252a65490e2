package rehost

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSniff(t *testing.T) {
	pad := bytes.Repeat([]byte{0}, 120)
	webp := append([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), pad...)
	cases := []struct {
		data []byte
		ext  string
	}{
		{append([]byte("\x89PNG"), pad...), ".png"},
		{append([]byte{0xFF, 0xD8, 0xFF}, pad...), ".jpg"},
		{append([]byte("GIF89a"), pad...), ".gif"},
		{append([]byte("BM"), pad...), ".bmp"},
		{webp, ".webp"},
		{append([]byte{0x00, 0x11}, pad...), ".jpg"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ext, sniff(tc.data).ext)
		assert.NoError(t, validate(tc.data))
	}
}

func TestValidateRejectsEmbeddedMarkup(t *testing.T) {
	body := append(bytes.Repeat([]byte{0x00}, 120), []byte("<HTML><body>403</body></HTML>")...)
	assert.ErrorIs(t, validate(body), ErrInvalidImage)
	assert.ErrorIs(t, validate(nil), ErrInvalidImage)
}

func TestFileName(t *testing.T) {
	name := fileName(time.Unix(1700000000, 0), ".gif")
	assert.Regexp(t, `^img_1700000000_[0-9a-f]{8}\.gif$`, name)
}

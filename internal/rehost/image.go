package rehost

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidImage means the downloaded bytes are not an image (empty, tiny or an error page).
var ErrInvalidImage = errors.New("downloaded content is not an image")

// ErrRejected is the upload host's verdict that the file content is unacceptable.
var ErrRejected = errors.New("image rejected by upload host")

const minImageBytes = 100

type format struct {
	mime string
	ext  string
}

var (
	formatJPEG = format{mime: "image/jpeg", ext: ".jpg"}
	formatPNG  = format{mime: "image/png", ext: ".png"}
	formatGIF  = format{mime: "image/gif", ext: ".gif"}
	formatBMP  = format{mime: "image/bmp", ext: ".bmp"}
	formatWEBP = format{mime: "image/webp", ext: ".webp"}
)

// validate rejects bodies that cannot be an image.
func validate(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidImage)
	}
	if len(data) < minImageBytes {
		return fmt.Errorf("%w: only %d bytes", ErrInvalidImage, len(data))
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return fmt.Errorf("%w: body is markup", ErrInvalidImage)
	}
	if _, known := sniffKnown(data); !known {
		lower := bytes.ToLower(data)
		if bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<!doctype")) {
			return fmt.Errorf("%w: body contains markup", ErrInvalidImage)
		}
	}
	return nil
}

// sniff picks the upload format from magic bytes; unknown binary is sent as JPEG.
func sniff(data []byte) format {
	f, _ := sniffKnown(data)
	return f
}

func sniffKnown(data []byte) (format, bool) {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return formatPNG, true
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		return formatJPEG, true
	case bytes.HasPrefix(data, []byte("GIF8")):
		return formatGIF, true
	case bytes.HasPrefix(data, []byte("BM")):
		return formatBMP, true
	case len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return formatWEBP, true
	}
	return formatJPEG, false
}

// fileName builds img_<unix>_<8 hex><ext>.
func fileName(now time.Time, ext string) string {
	id := uuid.NewString()
	return fmt.Sprintf("img_%d_%s%s", now.Unix(), id[:8], ext)
}

package publishers

import (
	"context"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
)

// Publisher delivers events to one channel (chat webhook, token API, queue, etc).
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, evt Event) error
}

// Rehoster moves forum images somewhere a chat client can load them. Implementations
// never drop an image: failures come back with HostedURL == SourceURL.
type Rehoster interface {
	RehostAll(ctx context.Context, srcs []string, native bool) []domain.RehostedImage
}

// MessageSender sends messages through the Feishu open platform.
type MessageSender interface {
	Enabled() bool
	SendMessage(ctx context.Context, receiveID, msgType string, content any) error
}

package httpclient

import (
	"context"
	"net/http"
)

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
	Header() http.Header
}

// File is a single multipart file part.
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
type Client interface {
	Get(ctx context.Context, url string, query, headers map[string]string) (Response, error)
	PostJSON(ctx context.Context, url string, headers map[string]string, body any) (Response, error)
	PostMultipart(ctx context.Context, url string, headers, fields map[string]string, file File) (Response, error)
}

package publishers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
)

type stubResponse struct {
	code int
	body []byte
}

func (r stubResponse) Body() []byte        { return r.body }
func (r stubResponse) StatusCode() int     { return r.code }
func (r stubResponse) Header() http.Header { return http.Header{} }

// recordingHTTP captures JSON posts and answers with a fixed response.
type recordingHTTP struct {
	mu     sync.Mutex
	urls   []string
	bodies [][]byte
	code   int
	reply  string
	err    error
}

func (r *recordingHTTP) Get(context.Context, string, map[string]string, map[string]string) (httpclient.Response, error) {
	return stubResponse{code: http.StatusNotFound}, nil
}

func (r *recordingHTTP) PostJSON(_ context.Context, url string, _ map[string]string, body any) (httpclient.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, _ := json.Marshal(body)
	r.urls = append(r.urls, url)
	r.bodies = append(r.bodies, raw)
	if r.err != nil {
		return nil, r.err
	}
	code := r.code
	if code == 0 {
		code = http.StatusOK
	}
	return stubResponse{code: code, body: []byte(r.reply)}, nil
}

func (r *recordingHTTP) PostMultipart(context.Context, string, map[string]string, map[string]string, httpclient.File) (httpclient.Response, error) {
	return stubResponse{code: http.StatusNotFound}, nil
}

func (r *recordingHTTP) lastBody(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Unmarshal(r.bodies[len(r.bodies)-1], v)
}

// stubRehoster returns canned results; unknown URLs fall back to the source.
type stubRehoster struct {
	results map[string]domain.RehostedImage
	native  []bool
}

func (s *stubRehoster) RehostAll(_ context.Context, srcs []string, native bool) []domain.RehostedImage {
	s.native = append(s.native, native)
	out := make([]domain.RehostedImage, 0, len(srcs))
	for _, src := range srcs {
		if img, ok := s.results[src]; ok {
			out = append(out, img)
			continue
		}
		out = append(out, domain.RehostedImage{SourceURL: src, HostedURL: src, Provider: "source"})
	}
	return out
}

type stubPublisher struct {
	id     string
	typ    string
	err    error
	calls  int
	events []Event
}

func (s *stubPublisher) ID() string   { return s.id }
func (s *stubPublisher) Type() string { return s.typ }
func (s *stubPublisher) Publish(_ context.Context, evt Event) error {
	s.calls++
	s.events = append(s.events, evt)
	return s.err
}

type stubSender struct {
	enabled   bool
	receiveID string
	msgType   string
	content   any
	err       error
}

func (s *stubSender) Enabled() bool { return s.enabled }
func (s *stubSender) SendMessage(_ context.Context, receiveID, msgType string, content any) error {
	s.receiveID = receiveID
	s.msgType = msgType
	s.content = content
	return s.err
}

func samplePost() domain.Post {
	return domain.Post{
		Subject:   "周末复盘",
		Author:    "alice",
		PostedAt:  "2024-05-01 09:30:00",
		Body:      "第一段\n![图片](https://forum.example.com/a.jpg)\n第二段\n![图片](https://forum.example.com/b.jpg)",
		Images:    []string{"https://forum.example.com/a.jpg", "https://forum.example.com/b.jpg"},
		SourceURL: "https://forum.example.com/thread-9-1-1.html",
		SectionID: 147,
		PostID:    101,
		ThreadID:  9,
	}
}

// Package rehost copies forum images to hosts chat platforms can render.
package rehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/backoff"
	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/Adda-Baaj/discuz-sentinel/internal/metrics"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/forum"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
)

// Providers recorded on RehostedImage.
const (
	ProviderSource    = "source"
	ProviderImageHost = "imagehost"
	ProviderFeishu    = "feishu"
)

const rejectionMarker = "非法图片文件"

// NativeUploader stores images inside a chat platform and returns an asset key.
type NativeUploader interface {
	Enabled() bool
	UploadImage(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Options configures a Pipeline. Zero values take the defaults noted on each field.
type Options struct {
	ForumBaseURL string
	UploadURL    string
	Attempts     uint          // 3
	Delay        time.Duration // 2s, doubled per retry
	FirstTimeout time.Duration // 60s
	RetryTimeout time.Duration // 45s
	ImagePause   time.Duration
	CacheSize    int // 256
	OnRetry      func(n uint, err error)
	Timer        backoff.Timer // nil uses time.After
}

type uploadResponse struct {
	Code  forum.FlexInt `json:"code"`
	Error string        `json:"error"`
	Msg   string        `json:"msg"`
	Data  struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Pipeline downloads over the forum session and re-uploads. It is used from the single
// polling goroutine; the cache lock only guards against misuse.
type Pipeline struct {
	forum  httpclient.Client
	upload httpclient.Client
	native NativeUploader
	opts   Options
	log    logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]domain.RehostedImage
	order []string
}

// New builds a Pipeline. native may be nil.
func New(forumClient, uploadClient httpclient.Client, native NativeUploader, opts Options, log logger.Logger) *Pipeline {
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = 2 * time.Second
	}
	if opts.FirstTimeout <= 0 {
		opts.FirstTimeout = 60 * time.Second
	}
	if opts.RetryTimeout <= 0 {
		opts.RetryTimeout = 45 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	opts.ForumBaseURL = strings.TrimRight(opts.ForumBaseURL, "/")
	return &Pipeline{
		forum:  forumClient,
		upload: uploadClient,
		native: native,
		opts:   opts,
		log:    logger.Ensure(log),
		now:    time.Now,
		cache:  make(map[string]domain.RehostedImage),
	}
}

// NativeEnabled reports whether the platform upload path is available.
func (p *Pipeline) NativeEnabled() bool {
	return p.native != nil && p.native.Enabled()
}

// Rehost uploads src to the image host. On any failure the source URL is returned as HostedURL.
func (p *Pipeline) Rehost(ctx context.Context, src string) domain.RehostedImage {
	if p.opts.UploadURL == "" {
		return original(src)
	}
	return p.cached(ctx, ProviderImageHost, src, func() domain.RehostedImage {
		data, err := p.download(ctx, src)
		if err != nil {
			p.log.WarnObj("image download failed", "image", map[string]any{"url": src, "error": err.Error()})
			metrics.ObserveImageUpload(ProviderImageHost, "download_failed")
			return original(src)
		}
		return p.linkUpload(ctx, src, data)
	})
}

// RehostNative uploads src into the chat platform. Token or upload failures degrade to Rehost.
func (p *Pipeline) RehostNative(ctx context.Context, src string) domain.RehostedImage {
	if !p.NativeEnabled() {
		return p.Rehost(ctx, src)
	}
	return p.cached(ctx, ProviderFeishu, src, func() domain.RehostedImage {
		data, err := p.download(ctx, src)
		if err != nil {
			p.log.WarnObj("image download failed", "image", map[string]any{"url": src, "error": err.Error()})
			metrics.ObserveImageUpload(ProviderFeishu, "download_failed")
			return original(src)
		}
		f := sniff(data)
		key, err := p.native.UploadImage(ctx, "image"+f.ext, f.mime, data)
		if err == nil {
			metrics.ObserveImageUpload(ProviderFeishu, "ok")
			return domain.RehostedImage{SourceURL: src, HostedURL: src, Provider: ProviderFeishu, AssetKey: key}
		}
		p.log.WarnObj("native image upload failed, using link upload", "image", map[string]any{"url": src, "error": err.Error()})
		metrics.ObserveImageUpload(ProviderFeishu, "error")
		if p.opts.UploadURL == "" {
			return original(src)
		}
		return p.linkUpload(ctx, src, data)
	})
}

// RehostAll rehosts srcs in order, pausing between uploads that were not cached.
func (p *Pipeline) RehostAll(ctx context.Context, srcs []string, native bool) []domain.RehostedImage {
	out := make([]domain.RehostedImage, 0, len(srcs))
	for i, src := range srcs {
		if ctx.Err() != nil {
			out = append(out, original(src))
			continue
		}
		provider := ProviderImageHost
		if native && p.NativeEnabled() {
			provider = ProviderFeishu
		}
		hit := p.isCached(provider, src)
		if native {
			out = append(out, p.RehostNative(ctx, src))
		} else {
			out = append(out, p.Rehost(ctx, src))
		}
		if !hit && i < len(srcs)-1 && p.opts.ImagePause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.opts.ImagePause):
			}
		}
	}
	return out
}

func (p *Pipeline) download(ctx context.Context, src string) ([]byte, error) {
	headers := map[string]string{"Referer": p.opts.ForumBaseURL + "/"}
	resp, err := p.forum.Get(ctx, src, nil, headers)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("download image returned status %d", resp.StatusCode())
	}
	data := resp.Body()
	if err := validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (p *Pipeline) linkUpload(ctx context.Context, src string, data []byte) domain.RehostedImage {
	f := sniff(data)
	file := httpclient.File{Field: "image", Name: fileName(p.now(), f.ext), ContentType: f.mime, Data: data}
	headers := p.uploadHeaders()

	var hosted string
	attempt := 0
	err := backoff.Do(ctx, backoff.Policy{
		Attempts: p.opts.Attempts,
		Delay:    p.opts.Delay,
		Timer:    p.opts.Timer,
		OnRetry: func(n uint, err error) {
			metrics.ObserveRetry("image_upload")
			p.log.WarnObj("image upload failed, retrying", "upload", map[string]any{
				"url": src, "attempt": n + 1, "error": err.Error(),
			})
			if p.opts.OnRetry != nil {
				p.opts.OnRetry(n, err)
			}
		},
	}, func(ctx context.Context) error {
		timeout := p.opts.RetryTimeout
		if attempt == 0 {
			timeout = p.opts.FirstTimeout
		}
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		u, err := p.uploadOnce(attemptCtx, headers, file)
		if err != nil {
			return err
		}
		hosted = u
		return nil
	})

	switch {
	case err == nil:
		metrics.ObserveImageUpload(ProviderImageHost, "ok")
		p.log.InfoObj("image rehosted", "image", map[string]string{"source": src, "hosted": hosted})
		return domain.RehostedImage{SourceURL: src, HostedURL: hosted, Provider: ProviderImageHost}
	case errors.Is(err, ErrRejected):
		metrics.ObserveImageUpload(ProviderImageHost, "rejected")
		p.log.WarnObj("image rejected by upload host", "image", map[string]any{"url": src, "bytes": len(data)})
	default:
		metrics.ObserveImageUpload(ProviderImageHost, "error")
		p.log.WarnObj("image upload gave up", "image", map[string]any{"url": src, "attempts": attempt, "error": err.Error()})
	}
	return original(src)
}

func (p *Pipeline) uploadOnce(ctx context.Context, headers map[string]string, file httpclient.File) (string, error) {
	resp, err := p.upload.PostMultipart(ctx, p.opts.UploadURL, headers, nil, file)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("upload image returned status %d body: %s", resp.StatusCode(), httpclient.Snippet(body))
	}
	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w (body: %s)", err, httpclient.Snippet(body))
	}
	if strings.Contains(out.Error, rejectionMarker) || strings.Contains(out.Msg, rejectionMarker) {
		return "", backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, out.Error+out.Msg))
	}
	if out.Code == http.StatusOK && out.Data.URL != "" {
		return strings.ReplaceAll(out.Data.URL, `\/`, "/"), nil
	}
	return "", fmt.Errorf("upload response without url: %s", httpclient.Snippet(body))
}

func (p *Pipeline) uploadHeaders() map[string]string {
	headers := map[string]string{
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"Accept-Language":  "zh-CN,zh;q=0.9,en;q=0.8",
		"X-Requested-With": "XMLHttpRequest",
	}
	if u, err := url.Parse(p.opts.UploadURL); err == nil && u.Host != "" {
		origin := u.Scheme + "://" + u.Host
		headers["Origin"] = origin
		headers["Referer"] = origin + "/"
	}
	return headers
}

func (p *Pipeline) cached(ctx context.Context, provider, src string, fill func() domain.RehostedImage) domain.RehostedImage {
	key := provider + "|" + src
	p.mu.Lock()
	if img, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return img
	}
	p.mu.Unlock()

	img := fill()
	if ctx.Err() != nil {
		return img
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cache[key]; !ok {
		p.order = append(p.order, key)
	}
	p.cache[key] = img
	for len(p.order) > p.opts.CacheSize {
		delete(p.cache, p.order[0])
		p.order = p.order[1:]
	}
	return img
}

func (p *Pipeline) isCached(provider, src string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cache[provider+"|"+src]
	return ok
}

func original(src string) domain.RehostedImage {
	return domain.RehostedImage{SourceURL: src, HostedURL: src, Provider: ProviderSource}
}

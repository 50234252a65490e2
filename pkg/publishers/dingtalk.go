package publishers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/Adda-Baaj/discuz-sentinel/internal/normalize"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
)

type dingTalkPublisher struct {
	id      string
	webhook string
	secret  string
	limit   int
	http    httpclient.Client
	rehost  Rehoster
	now     func() time.Time
	log     logger.Logger
}

type dingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func newDingTalkPublisher(_ context.Context, cfg ChannelConfig, deps Deps) (Publisher, error) {
	if deps.HTTP == nil {
		return nil, fmt.Errorf("channel %q: webhook http client is required", cfg.ID)
	}
	return &dingTalkPublisher{
		id:      cfg.ID,
		webhook: cfg.WebhookURL,
		secret:  cfg.Secret,
		limit:   deps.PreviewLimit,
		http:    deps.HTTP,
		rehost:  deps.Rehoster,
		now:     deps.clock(),
		log:     logger.Ensure(deps.Log),
	}, nil
}

func (d *dingTalkPublisher) ID() string   { return d.id }
func (d *dingTalkPublisher) Type() string { return TypeDingTalk }

// Publish sends the post as a markdown message. Image markers become inline images when
// rehosting succeeded and plain links otherwise.
func (d *dingTalkPublisher) Publish(ctx context.Context, evt Event) error {
	body := normalize.Truncate(evt.Post.Body, d.limit)
	images := rehostImages(ctx, d.rehost, body, false)
	body = normalize.ReplaceMarkers(body, func(src string) string {
		return dingTalkImage(lookupImage(images, src))
	})

	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": subjectOf(evt.Post),
			"text":  markdownMessage(evt.Post, body),
		},
	}

	endpoint := d.webhook
	if d.secret != "" {
		endpoint = SignDingTalkURL(d.webhook, d.secret, d.now())
	}
	resp, err := d.http.PostJSON(ctx, endpoint, nil, payload)
	if err != nil {
		return fmt.Errorf("dingtalk request: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("dingtalk response status %d: %s", resp.StatusCode(), httpclient.Snippet(resp.Body()))
	}
	var out dingTalkResponse
	if err := json.Unmarshal(resp.Body(), &out); err == nil && out.ErrCode != 0 {
		return fmt.Errorf("dingtalk rejected message: %d %s", out.ErrCode, out.ErrMsg)
	}
	d.log.DebugObj("dingtalk message delivered", "delivery", map[string]any{"channel": d.id, "images": len(images)})
	return nil
}

func dingTalkImage(img domain.RehostedImage) string {
	if img.Rehosted() && img.HostedURL != "" {
		return fmt.Sprintf("![%s](%s)", normalize.ImageAlt, img.HostedURL)
	}
	return fmt.Sprintf("[🖼️ 图片无法预览](%s)", img.SourceURL)
}

// DingTalkSign returns the URL-escaped signature over "<timestamp>\n<secret>".
func DingTalkSign(secret string, timestampMillis int64) string {
	toSign := strconv.FormatInt(timestampMillis, 10) + "\n" + secret
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(toSign))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// SignDingTalkURL appends timestamp and sign query parameters to webhook.
func SignDingTalkURL(webhook, secret string, now time.Time) string {
	ts := now.UnixMilli()
	sep := "?"
	if strings.Contains(webhook, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%stimestamp=%d&sign=%s", webhook, sep, ts, DingTalkSign(secret, ts))
}

package publishers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/Adda-Baaj/discuz-sentinel/internal/normalize"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
)

type feishuResponse struct {
	Code       *int   `json:"code"`
	Msg        string `json:"msg"`
	StatusCode *int   `json:"StatusCode"`
}

// feishuWebhookPublisher posts interactive cards to a custom bot webhook.
type feishuWebhookPublisher struct {
	id      string
	webhook string
	secret  string
	limit   int
	http    httpclient.Client
	rehost  Rehoster
	now     func() time.Time
	log     logger.Logger
}

func newFeishuWebhookPublisher(_ context.Context, cfg ChannelConfig, deps Deps) (Publisher, error) {
	if deps.HTTP == nil {
		return nil, fmt.Errorf("channel %q: webhook http client is required", cfg.ID)
	}
	return &feishuWebhookPublisher{
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

func (f *feishuWebhookPublisher) ID() string   { return f.id }
func (f *feishuWebhookPublisher) Type() string { return TypeFeishu }

func (f *feishuWebhookPublisher) Publish(ctx context.Context, evt Event) error {
	body := normalize.Truncate(evt.Post.Body, f.limit)
	images := rehostImages(ctx, f.rehost, body, true)
	now := f.now()

	payload := map[string]any{
		"msg_type": "interactive",
		"card":     BuildCard(evt.Post, body, images, now),
	}
	if f.secret != "" {
		ts := now.Unix()
		payload["timestamp"] = strconv.FormatInt(ts, 10)
		payload["sign"] = FeishuSign(f.secret, ts)
	}

	resp, err := f.http.PostJSON(ctx, f.webhook, nil, payload)
	if err != nil {
		return fmt.Errorf("feishu webhook request: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("feishu webhook status %d: %s", resp.StatusCode(), httpclient.Snippet(resp.Body()))
	}
	var out feishuResponse
	if err := json.Unmarshal(resp.Body(), &out); err == nil {
		if out.Code != nil && *out.Code != 0 {
			return fmt.Errorf("feishu webhook rejected card: %d %s", *out.Code, out.Msg)
		}
		if out.StatusCode != nil && *out.StatusCode != 0 {
			return fmt.Errorf("feishu webhook rejected card: status %d", *out.StatusCode)
		}
	}
	f.log.DebugObj("feishu card delivered", "delivery", map[string]any{"channel": f.id, "images": len(images)})
	return nil
}

// feishuAPIPublisher sends the same card through the open-platform message API.
type feishuAPIPublisher struct {
	id        string
	receiveID string
	limit     int
	sender    MessageSender
	rehost    Rehoster
	now       func() time.Time
	log       logger.Logger
}

func newFeishuAPIPublisher(_ context.Context, cfg ChannelConfig, deps Deps) (Publisher, error) {
	if deps.Feishu == nil || !deps.Feishu.Enabled() {
		return nil, fmt.Errorf("channel %q: feishu_api requires feishu_app_id and feishu_app_secret", cfg.ID)
	}
	return &feishuAPIPublisher{
		id:        cfg.ID,
		receiveID: cfg.ReceiveID,
		limit:     deps.PreviewLimit,
		sender:    deps.Feishu,
		rehost:    deps.Rehoster,
		now:       deps.clock(),
		log:       logger.Ensure(deps.Log),
	}, nil
}

func (f *feishuAPIPublisher) ID() string   { return f.id }
func (f *feishuAPIPublisher) Type() string { return TypeFeishuAPI }

func (f *feishuAPIPublisher) Publish(ctx context.Context, evt Event) error {
	body := normalize.Truncate(evt.Post.Body, f.limit)
	images := rehostImages(ctx, f.rehost, body, true)
	card := BuildCard(evt.Post, body, images, f.now())
	if err := f.sender.SendMessage(ctx, f.receiveID, "interactive", card); err != nil {
		return fmt.Errorf("feishu api send: %w", err)
	}
	f.log.DebugObj("feishu api card delivered", "delivery", map[string]any{"channel": f.id, "images": len(images)})
	return nil
}

// BuildCard renders a post as an interactive card: metadata, alternating text and image
// blocks, a divider, the source link and a timestamp note.
func BuildCard(p domain.Post, body string, images map[string]domain.RehostedImage, now time.Time) map[string]any {
	elements := []any{larkMarkdown(metaLine(p))}
	for _, seg := range normalize.Split(body) {
		if !seg.IsImage() {
			elements = append(elements, larkMarkdown(seg.Text))
			continue
		}
		img := lookupImage(images, seg.Image)
		if img.AssetKey != "" {
			elements = append(elements, map[string]any{
				"tag":     "img",
				"img_key": img.AssetKey,
				"alt":     map[string]string{"tag": "plain_text", "content": normalize.ImageAlt},
			})
			continue
		}
		target := img.HostedURL
		if target == "" {
			target = img.SourceURL
		}
		elements = append(elements, larkMarkdown(fmt.Sprintf("[🖼️ 点击查看图片](%s)", target)))
	}
	elements = append(elements, map[string]any{"tag": "hr"})
	if link := sourceLink(p); link != "" {
		elements = append(elements, larkMarkdown(link))
	}
	elements = append(elements, map[string]any{
		"tag": "note",
		"elements": []any{
			map[string]string{"tag": "plain_text", "content": brand + " • " + now.In(cst).Format("15:04:05")},
		},
	})

	template := "blue"
	if p.Restricted {
		template = "orange"
	}
	return map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title":    map[string]string{"tag": "plain_text", "content": subjectOf(p)},
			"template": template,
		},
		"elements": elements,
	}
}

func larkMarkdown(content string) map[string]any {
	return map[string]any{
		"tag":  "div",
		"text": map[string]string{"tag": "lark_md", "content": content},
	}
}

// FeishuSign computes the custom bot signature: HMAC-SHA256 keyed by "<timestamp>\n<secret>"
// over an empty message, base64 encoded.
func FeishuSign(secret string, timestamp int64) string {
	key := strconv.FormatInt(timestamp, 10) + "\n" + secret
	mac := hmac.New(sha256.New, []byte(key))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

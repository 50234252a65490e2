// Package feishu is a small client for the Feishu (Lark) open platform: tenant token,
// message image upload and message send.
package feishu

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

	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
)

// DefaultBaseURL is the public open-platform API root.
const DefaultBaseURL = "https://open.feishu.cn/open-apis"

// tokens are refreshed this long before they expire.
const tokenSkew = 60 * time.Second

// ErrNotConfigured is returned when app credentials are missing.
var ErrNotConfigured = errors.New("feishu app credentials not configured")

// APIError is a non-zero code in an open-platform response.
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feishu %s: code %d: %s", e.Op, e.Code, e.Msg)
}

type tokenResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Token  string `json:"tenant_access_token"`
	Expire int64  `json:"expire"`
}

type imageResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ImageKey string `json:"image_key"`
	} `json:"data"`
}

type messageResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Client holds app credentials and the cached tenant token.
type Client struct {
	http      httpclient.Client
	base      string
	appID     string
	appSecret string
	now       func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClient builds a client; baseURL defaults to DefaultBaseURL.
func NewClient(client httpclient.Client, baseURL, appID, appSecret string) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		http:      client,
		base:      base,
		appID:     strings.TrimSpace(appID),
		appSecret: strings.TrimSpace(appSecret),
		now:       time.Now,
	}
}

// Enabled reports whether credentials are present.
func (c *Client) Enabled() bool {
	return c != nil && c.appID != "" && c.appSecret != ""
}

// Token returns a tenant access token, fetching a new one when the cache is stale.
func (c *Client) Token(ctx context.Context) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.expires) {
		return c.token, nil
	}

	body := map[string]string{"app_id": c.appID, "app_secret": c.appSecret}
	resp, err := c.http.PostJSON(ctx, c.base+"/auth/v3/tenant_access_token/internal", nil, body)
	if err != nil {
		return "", fmt.Errorf("feishu token: %w", err)
	}
	var out tokenResponse
	if err := decode("token", resp, &out); err != nil {
		return "", err
	}
	if out.Code != 0 || out.Token == "" {
		return "", &APIError{Op: "token", Code: out.Code, Msg: out.Msg}
	}
	expire := time.Duration(out.Expire) * time.Second
	if expire <= 0 {
		expire = time.Hour
	}
	c.token = out.Token
	c.expires = now.Add(expire - tokenSkew)
	return c.token, nil
}

// UploadImage stores data as a message image and returns its image_key.
func (c *Client) UploadImage(ctx context.Context, name, contentType string, data []byte) (string, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	resp, err := c.http.PostMultipart(ctx, c.base+"/im/v1/images",
		map[string]string{"Authorization": "Bearer " + token},
		map[string]string{"image_type": "message"},
		httpclient.File{Field: "image", Name: name, ContentType: contentType, Data: data},
	)
	if err != nil {
		return "", fmt.Errorf("feishu upload image: %w", err)
	}
	var out imageResponse
	if err := decode("upload image", resp, &out); err != nil {
		return "", err
	}
	if out.Code != 0 || out.Data.ImageKey == "" {
		return "", &APIError{Op: "upload image", Code: out.Code, Msg: out.Msg}
	}
	return out.Data.ImageKey, nil
}

// SendMessage delivers content (marshalled to the JSON string Feishu expects) to receiveID.
func (c *Client) SendMessage(ctx context.Context, receiveID, msgType string, content any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode feishu message content: %w", err)
	}
	endpoint := fmt.Sprintf("%s/im/v1/messages?receive_id_type=%s", c.base, url.QueryEscape(ReceiveIDType(receiveID)))
	body := map[string]string{
		"receive_id": receiveID,
		"msg_type":   msgType,
		"content":    string(raw),
	}
	resp, err := c.http.PostJSON(ctx, endpoint, map[string]string{"Authorization": "Bearer " + token}, body)
	if err != nil {
		return fmt.Errorf("feishu send message: %w", err)
	}
	var out messageResponse
	if err := decode("send message", resp, &out); err != nil {
		return err
	}
	if out.Code != 0 {
		return &APIError{Op: "send message", Code: out.Code, Msg: out.Msg}
	}
	return nil
}

// ReceiveIDType maps a recipient id to the receive_id_type it implies.
func ReceiveIDType(id string) string {
	id = strings.TrimSpace(id)
	switch {
	case strings.HasPrefix(id, "oc_"):
		return "chat_id"
	case strings.HasPrefix(id, "ou_"):
		return "open_id"
	case strings.HasPrefix(id, "on_"):
		return "union_id"
	case strings.Contains(id, "@"):
		return "email"
	default:
		return "user_id"
	}
}

func decode(op string, resp httpclient.Response, out any) error {
	body := resp.Body()
	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("feishu %s returned status %d body: %s", op, resp.StatusCode(), httpclient.Snippet(body))
		}
		return fmt.Errorf("decode feishu %s: %w", op, err)
	}
	return nil
}

package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	tokenCalls  atomic.Int32
	uploadCalls atomic.Int32
	lastMessage map[string]string
	lastIDType  string
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["app_secret"] != "secret" {
			_, _ = io.WriteString(w, `{"code":10014,"msg":"app secret invalid"}`)
			return
		}
		_, _ = io.WriteString(w, `{"code":0,"tenant_access_token":"t-123","expire":7200}`)
	})
	mux.HandleFunc("/im/v1/images", func(w http.ResponseWriter, r *http.Request) {
		f.uploadCalls.Add(1)
		assert.Equal(t, "Bearer t-123", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "message", r.FormValue("image_type"))
		if _, hdr, err := r.FormFile("image"); assert.NoError(t, err) {
			assert.Equal(t, "img.png", hdr.Filename)
		}
		_, _ = io.WriteString(w, `{"code":0,"data":{"image_key":"img_v2_abc"}}`)
	})
	mux.HandleFunc("/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.lastIDType = r.URL.Query().Get("receive_id_type")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastMessage))
		_, _ = io.WriteString(w, `{"code":0,"msg":"success"}`)
	})
	return mux
}

func TestTokenCachedUntilSkew(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := NewClient(httpclient.NewRestyClient(2*time.Second), srv.URL, "app", "secret")
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tok, err := c.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "t-123", tok)
	}
	assert.EqualValues(t, 1, fake.tokenCalls.Load())

	now = now.Add(7200*time.Second - 59*time.Second)
	_, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, fake.tokenCalls.Load())
}

func TestTokenFailure(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := NewClient(httpclient.NewRestyClient(2*time.Second), srv.URL, "app", "wrong")
	_, err := c.Token(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 10014, apiErr.Code)

	_, err = NewClient(nil, "", "", "").Token(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUploadAndSend(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := NewClient(httpclient.NewRestyClient(2*time.Second), srv.URL, "app", "secret")
	key, err := c.UploadImage(context.Background(), "img.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "img_v2_abc", key)

	err = c.SendMessage(context.Background(), "oc_group", "interactive", map[string]any{"header": "x"})
	require.NoError(t, err)
	assert.Equal(t, "chat_id", fake.lastIDType)
	assert.Equal(t, "oc_group", fake.lastMessage["receive_id"])
	assert.JSONEq(t, `{"header":"x"}`, fake.lastMessage["content"])
}

func TestReceiveIDType(t *testing.T) {
	cases := map[string]string{
		"oc_123":          "chat_id",
		"ou_123":          "open_id",
		"on_123":          "union_id",
		"ops@example.com": "email",
		"a1b2c3":          "user_id",
	}
	for id, want := range cases {
		assert.Equal(t, want, ReceiveIDType(id), id)
	}
}

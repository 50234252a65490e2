package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRestyClientSendsSessionHeadersAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cookie"); got != "auth=1" {
			t.Errorf("expected session cookie, got %q", got)
		}
		if got := r.URL.Query().Get("fid"); got != "147" {
			t.Errorf("expected fid query, got %q", got)
		}
		if got := r.Header.Get("Referer"); got != "https://forum/" {
			t.Errorf("expected per-request header, got %q", got)
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := NewRestyClientWithOptions(Options{Timeout: 2 * time.Second, Headers: map[string]string{"Cookie": "auth=1"}})
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"fid": "147"}, map[string]string{"Referer": "https://forum/"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode() != http.StatusOK || string(resp.Body()) != "ok" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode(), resp.Body())
	}
	if resp.Header().Get("Content-Type") != "text/plain" {
		t.Fatalf("expected header passthrough")
	}
}

func TestRestyClientPostMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("image_type"); got != "message" {
			t.Errorf("expected image_type field, got %q", got)
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		fmt.Fprintf(w, "%s:%d", hdr.Filename, len(data))
	}))
	defer srv.Close()

	c := NewRestyClient(2 * time.Second)
	resp, err := c.PostMultipart(context.Background(), srv.URL, nil, map[string]string{"image_type": "message"}, File{
		Field: "image", Name: "a.png", ContentType: "image/png", Data: []byte("12345"),
	})
	if err != nil {
		t.Fatalf("PostMultipart: %v", err)
	}
	if string(resp.Body()) != "a.png:5" {
		t.Fatalf("unexpected body %q", resp.Body())
	}
}

type gatewayErr struct{}

func (gatewayErr) Error() string { return "504" }
func (gatewayErr) Gateway() bool { return true }

func TestIsTransient(t *testing.T) {
	if !IsTransient(io.ErrUnexpectedEOF) {
		t.Errorf("unexpected EOF should be transient")
	}
	if !IsTransient(fmt.Errorf("wrap: %w", gatewayErr{})) {
		t.Errorf("gateway error should be transient")
	}
	if IsTransient(context.Canceled) {
		t.Errorf("cancellation must not be retried")
	}
	if IsTransient(errors.New("decode json: invalid character")) {
		t.Errorf("parse errors are not transient")
	}
}

package publishers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAlerterCooldown(t *testing.T) {
	pub := &stubPublisher{id: "ops", typ: TypeDingTalk}
	a := NewAlerter([]Publisher{pub}, 24*time.Hour, nil)
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	a.ReportCredentialFailure(context.Background(), "probe", errors.New("not_loggedin"))
	if pub.calls != 1 {
		t.Fatalf("expected first alert to be sent, got %d", pub.calls)
	}
	evt := pub.events[0]
	if !evt.IsAlert() || !strings.Contains(evt.Post.Body, "probe") || !strings.Contains(evt.Post.Body, "not_loggedin") {
		t.Fatalf("unexpected alert event %+v", evt)
	}

	now = now.Add(23 * time.Hour)
	a.ReportCredentialFailure(context.Background(), "thread_api", errors.New("nopermission"))
	if pub.calls != 1 {
		t.Fatalf("expected alert suppressed inside cooldown, got %d calls", pub.calls)
	}

	now = now.Add(2 * time.Hour)
	a.ReportCredentialFailure(context.Background(), "probe", nil)
	if pub.calls != 2 {
		t.Fatalf("expected alert after cooldown, got %d calls", pub.calls)
	}
}

func TestAlerterRetriesWhenNothingDelivered(t *testing.T) {
	pub := &stubPublisher{id: "ops", typ: TypeFeishu, err: errors.New("down")}
	a := NewAlerter([]Publisher{pub}, time.Hour, nil)

	a.ReportCredentialFailure(context.Background(), "probe", nil)
	a.ReportCredentialFailure(context.Background(), "probe", nil)
	if pub.calls != 2 {
		t.Fatalf("failed alerts must not start the cooldown, got %d calls", pub.calls)
	}
}

func TestAlerterWithoutChannels(t *testing.T) {
	var nilAlerter *Alerter
	nilAlerter.ReportCredentialFailure(context.Background(), "probe", nil)

	NewAlerter(nil, 0, nil).ReportCredentialFailure(context.Background(), "probe", nil)
}

package publishers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/Adda-Baaj/discuz-sentinel/internal/metrics"
)

// DefaultAlertCooldown bounds credential alerts to one per day.
const DefaultAlertCooldown = 24 * time.Hour

const alertSubject = "⚠️ DiscuzSentinel 告警"

// Alerter raises cooldown-gated system alerts on the channels flagged for them.
type Alerter struct {
	fanout   *Fanout
	cooldown time.Duration
	log      logger.Logger
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewAlerter builds an Alerter over pubs. A non-positive cooldown uses DefaultAlertCooldown.
func NewAlerter(pubs []Publisher, cooldown time.Duration, log logger.Logger) *Alerter {
	if cooldown <= 0 {
		cooldown = DefaultAlertCooldown
	}
	return &Alerter{
		fanout:   NewFanout(pubs),
		cooldown: cooldown,
		log:      logger.Ensure(log),
		now:      time.Now,
	}
}

// ReportCredentialFailure records a possible expired session. The alert goes out unless one
// was delivered within the cooldown window; the window only starts once a channel accepted it.
func (a *Alerter) ReportCredentialFailure(ctx context.Context, source string, err error) {
	if a == nil {
		return
	}
	fields := map[string]any{"source": source}
	if err != nil {
		fields["error"] = err.Error()
	}
	a.log.WarnObj("forum credential failure observed", "alert", fields)

	if a.fanout.Size() == 0 {
		metrics.ObserveAlert("no_channel")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if !a.last.IsZero() && now.Sub(a.last) < a.cooldown {
		metrics.ObserveAlert("suppressed")
		return
	}

	detail := "unknown"
	if err != nil {
		detail = err.Error()
	}
	body := fmt.Sprintf("检测到论坛登录状态异常，Cookie 可能已失效，请尽快更新。\n\n**来源**: %s\n**详情**: %s", source, detail)
	sent, sendErr := a.fanout.Publish(ctx, NewAlertEvent(alertSubject, body))
	if sent == 0 {
		metrics.ObserveAlert("failed")
		a.log.ErrorObj("credential alert not delivered", "alert", map[string]any{"error": errString(sendErr)})
		return
	}
	a.last = now
	metrics.ObserveAlert("sent")
	if sendErr != nil {
		a.log.WarnObj("credential alert partially delivered", "alert", map[string]any{"sent": sent, "error": sendErr.Error()})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

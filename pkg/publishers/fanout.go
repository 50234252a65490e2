package publishers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/Adda-Baaj/discuz-sentinel/internal/metrics"
)

// Fanout dispatches events to all configured publishers.
type Fanout struct {
	publishers []Publisher
}

// NewFanout builds a dispatcher that fans out events across publishers.
func NewFanout(pubs []Publisher) *Fanout {
	cp := make([]Publisher, 0, len(pubs))
	for _, p := range pubs {
		if p == nil {
			continue
		}
		cp = append(cp, p)
	}
	return &Fanout{publishers: cp}
}

// Publish forwards the event to every registered publisher in order.
// It returns the number of publishers that successfully handled the event.
func (f *Fanout) Publish(ctx context.Context, evt Event) (int, error) {
	if f == nil || len(f.publishers) == 0 {
		return 0, nil
	}

	var errs []error
	successful := 0
	for _, p := range f.publishers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s publisher[%s]: %w", p.Type(), p.ID(), err))
			continue
		}
		err := p.Publish(ctx, evt)
		metrics.ObserveDelivery(p.Type(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s publisher[%s]: %w", p.Type(), p.ID(), err))
		} else {
			successful++
		}
	}
	return successful, errors.Join(errs...)
}

// Size returns the number of active publishers.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.publishers)
}

// Dispatcher routes posts to the channels a section subscribes to.
type Dispatcher struct {
	byID  map[string]Publisher
	order []Publisher
	log   logger.Logger
}

// NewDispatcher indexes publishers by channel id.
func NewDispatcher(pubs []Publisher, log logger.Logger) *Dispatcher {
	d := &Dispatcher{byID: make(map[string]Publisher, len(pubs)), log: logger.Ensure(log)}
	for _, p := range pubs {
		if p == nil {
			continue
		}
		d.byID[p.ID()] = p
		d.order = append(d.order, p)
	}
	return d
}

// Publishers resolves channel ids, skipping unknown or disabled ones.
func (d *Dispatcher) Publishers(ids []string) []Publisher {
	out := make([]Publisher, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		p, ok := d.byID[id]
		if !ok {
			d.log.WarnObj("channel not configured or disabled", "channel", map[string]any{"channel_id": id})
			continue
		}
		out = append(out, p)
	}
	return out
}

// Dispatch delivers post to every channel of section. Delivery failures are logged and
// returned joined; they never stop the remaining channels.
func (d *Dispatcher) Dispatch(ctx context.Context, section domain.Section, post domain.Post) (int, error) {
	pubs := d.Publishers(section.Channels)
	if len(pubs) == 0 {
		d.log.WarnObj("section has no deliverable channels", "dispatch", map[string]any{"section_id": section.ID})
		return 0, nil
	}
	sent, err := NewFanout(pubs).Publish(ctx, NewEvent(section, post))
	fields := map[string]any{
		"section_id": section.ID,
		"post_id":    post.PostID,
		"thread_id":  post.ThreadID,
		"delivered":  sent,
		"channels":   len(pubs),
	}
	if err != nil {
		fields["error"] = err.Error()
		d.log.WarnObj("post delivery incomplete", "dispatch", fields)
	} else {
		d.log.InfoObj("post delivered", "dispatch", fields)
	}
	return sent, err
}

// Close releases publishers holding client connections.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, p := range d.order {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close channel %s: %w", p.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}

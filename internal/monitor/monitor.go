// Package monitor detects new posts in forum sections and drives them through
// acquisition and delivery.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/backoff"
	"github.com/Adda-Baaj/discuz-sentinel/internal/config"
	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/Adda-Baaj/discuz-sentinel/internal/metrics"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/forum"
)

// Options tunes a Monitor.
type Options struct {
	Mode            string // config.ModeProbe or config.ModeList
	SilentBootstrap bool
	SectionPause    time.Duration
	DispatchPause   time.Duration
	ProbePolicy     backoff.Policy
}

// Monitor polls sections one at a time on the caller's goroutine.
type Monitor struct {
	src      Source
	acquirer Acquirer
	dispatch Dispatcher
	store    WatermarkStore
	reporter CredentialReporter
	opts     Options
	log      logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New wires a Monitor. reporter may be nil.
func New(src Source, acq Acquirer, disp Dispatcher, store WatermarkStore, reporter CredentialReporter, opts Options, log logger.Logger) *Monitor {
	if opts.Mode == "" {
		opts.Mode = config.ModeProbe
	}
	if opts.ProbePolicy.Attempts == 0 {
		opts.ProbePolicy = DefaultProbePolicy()
	}
	return &Monitor{
		src:      src,
		acquirer: acq,
		dispatch: disp,
		store:    store,
		reporter: reporter,
		opts:     opts,
		log:      logger.Ensure(log),
		sleep:    Sleep,
	}
}

// RunPass polls every section in order. Section failures are logged and skipped; only
// cancellation is returned.
func (m *Monitor) RunPass(ctx context.Context, sections []domain.Section) error {
	for i, section := range sections {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.PollSection(ctx, section); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.ErrorObj("section poll failed", "section", map[string]any{
				"section_id": section.ID,
				"name":       section.Name,
				"error":      err.Error(),
			})
		}
		if i < len(sections)-1 {
			if err := m.sleep(ctx, m.opts.SectionPause); err != nil {
				return err
			}
		}
	}
	return nil
}

// PollSection discovers and processes new candidates for one section.
func (m *Monitor) PollSection(ctx context.Context, section domain.Section) error {
	w, err := m.store.Get(section.ID)
	if err != nil {
		metrics.ObservePoll(section.Key(), "error")
		return fmt.Errorf("load watermark for section %d: %w", section.ID, err)
	}

	if m.opts.Mode == config.ModeList {
		return m.pollList(ctx, section, w)
	}
	return m.pollProbe(ctx, section, w)
}

func (m *Monitor) pollProbe(ctx context.Context, section domain.Section, w domain.Watermark) error {
	resp, err := m.probe(ctx, section, w.LastPID)
	if err != nil {
		return m.pollFailed(ctx, section, "livelastpost", err)
	}
	if resp.Count == 0 || len(resp.List) == 0 {
		metrics.ObservePoll(section.Key(), "empty")
		return nil
	}

	cands := probeCandidates(resp)
	key := func(c domain.Candidate) int64 { return c.PostID }
	advance := func(w domain.Watermark, c domain.Candidate) domain.Watermark { return w.AdvancePost(c.PostID) }
	return m.processBatch(ctx, section, w, w.LastPID, cands, key, advance)
}

func (m *Monitor) pollList(ctx context.Context, section domain.Section, w domain.Watermark) error {
	cands, err := m.listCandidates(ctx, section)
	if err != nil {
		return m.pollFailed(ctx, section, "forumdisplay", err)
	}
	if len(cands) == 0 {
		metrics.ObservePoll(section.Key(), "empty")
		return nil
	}

	key := func(c domain.Candidate) int64 { return c.ThreadID }
	advance := func(w domain.Watermark, c domain.Candidate) domain.Watermark { return w.AdvanceThread(c.ThreadID) }
	return m.processBatch(ctx, section, w, w.LastTID, cands, key, advance)
}

func (m *Monitor) pollFailed(ctx context.Context, section domain.Section, endpoint string, err error) error {
	if forum.IsCredentialError(err) {
		metrics.ObservePoll(section.Key(), "credential")
		if m.reporter != nil {
			m.reporter.ReportCredentialFailure(ctx, endpoint, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	metrics.ObservePoll(section.Key(), "error")
	return err
}

// processBatch handles ascending candidates above mark. The watermark advances past every
// processed candidate whether or not it was delivered, and is stored once per batch. On
// cancellation the position reached so far is stored.
func (m *Monitor) processBatch(
	ctx context.Context,
	section domain.Section,
	start domain.Watermark,
	mark int64,
	cands []domain.Candidate,
	key func(domain.Candidate) int64,
	advance func(domain.Watermark, domain.Candidate) domain.Watermark,
) error {
	fresh := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		if key(c) > mark {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		metrics.ObservePoll(section.Key(), "empty")
		return nil
	}

	if mark == 0 && m.opts.SilentBootstrap {
		reached := start
		for _, c := range fresh {
			reached = advance(reached, c)
		}
		m.log.InfoObj("section bootstrapped without delivery", "bootstrap", map[string]any{
			"section_id": section.ID,
			"skipped":    len(fresh),
			"last_pid":   reached.LastPID,
			"last_tid":   reached.LastTID,
		})
		metrics.ObservePoll(section.Key(), "bootstrap")
		return m.persist(section, reached)
	}

	metrics.ObservePoll(section.Key(), "ok")
	reached := start
	var cancelErr error
	for i, c := range fresh {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}
		if err := m.process(ctx, section, c); err != nil {
			cancelErr = err
			break
		}
		reached = advance(reached, c)
		if i < len(fresh)-1 {
			if err := m.sleep(ctx, m.opts.DispatchPause); err != nil {
				cancelErr = err
				break
			}
		}
	}

	if err := m.persist(section, reached); err != nil {
		return errors.Join(cancelErr, err)
	}
	return cancelErr
}

// process acquires and dispatches one candidate. Only cancellation is returned; every
// other failure is logged and the candidate counts as handled.
func (m *Monitor) process(ctx context.Context, section domain.Section, c domain.Candidate) error {
	fields := map[string]any{"section_id": section.ID, "pid": c.PostID, "tid": c.ThreadID}

	post, err := m.acquirer.Acquire(ctx, section, c)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fields["error"] = err.Error()
		m.log.WarnObj("candidate skipped, no content acquired", "candidate", fields)
		metrics.ObservePost(section.Key(), "skipped")
		return nil
	}
	post.SectionID = section.ID

	sent, err := m.dispatch.Dispatch(ctx, section, post)
	switch {
	case err == nil:
		metrics.ObservePost(section.Key(), "delivered")
	case sent > 0:
		metrics.ObservePost(section.Key(), "partial")
	default:
		metrics.ObservePost(section.Key(), "failed")
	}
	fields["subject"] = post.Subject
	fields["delivered"] = sent
	m.log.InfoObj("candidate processed", "candidate", fields)
	return nil
}

func (m *Monitor) persist(section domain.Section, w domain.Watermark) error {
	if err := m.store.Put(section.ID, w); err != nil {
		return fmt.Errorf("store watermark for section %d: %w", section.ID, err)
	}
	metrics.SetWatermark(section.Key(), w.LastPID, w.LastTID)
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/backoff"
	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/metrics"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/forum"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
)

// DefaultProbePolicy retries the probe three times: gateway timeouts wait 5s then 10s,
// other transport faults wait a fixed 3s.
func DefaultProbePolicy() backoff.Policy {
	return backoff.Policy{
		Attempts: 3,
		RetryIf:  httpclient.IsTransient,
		DelayFor: func(n uint, err error) time.Duration {
			if forum.IsGatewayTimeout(err) {
				return (5 * time.Second) << n
			}
			return 3 * time.Second
		},
	}
}

// probe fetches the posts newer than lastPID, retrying transient faults.
func (m *Monitor) probe(ctx context.Context, section domain.Section, lastPID int64) (forum.ProbeResponse, error) {
	policy := m.opts.ProbePolicy
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(n uint, err error) {
		metrics.ObserveRetry("probe")
		m.log.WarnObj("probe failed, retrying", "probe", map[string]any{
			"section_id": section.ID,
			"attempt":    n + 1,
			"error":      err.Error(),
		})
		if userOnRetry != nil {
			userOnRetry(n, err)
		}
	}

	var resp forum.ProbeResponse
	err := backoff.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		resp, err = m.src.Probe(ctx, section.ID, lastPID)
		return err
	})
	return resp, err
}

// probeCandidates turns a probe payload into candidates ordered by pid.
func probeCandidates(resp forum.ProbeResponse) []domain.Candidate {
	items := resp.Ascending()
	out := make([]domain.Candidate, 0, len(items))
	for _, item := range items {
		if item.PID <= 0 {
			continue
		}
		out = append(out, domain.Candidate{
			PostID:   int64(item.PID),
			ThreadID: forum.ThreadIDFromHTML(item.Message),
			Author:   string(item.Author),
			RawHTML:  item.Message,
			PostedAt: string(item.Dateline),
		})
	}
	return out
}

// listCandidates scrapes up to section.ListPages index pages. A failure on the first page
// fails the poll; later pages only cut the scan short.
func (m *Monitor) listCandidates(ctx context.Context, section domain.Section) ([]domain.Candidate, error) {
	pages := section.ListPages
	if pages < 1 {
		pages = 1
	}
	seen := map[int64]bool{}
	var out []domain.Candidate
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := m.src.ThreadList(ctx, section.ID, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			m.log.WarnObj("thread list page failed", "list", map[string]any{
				"section_id": section.ID,
				"page":       page,
				"error":      err.Error(),
			})
			break
		}
		for _, row := range rows {
			if row.TID <= 0 || seen[row.TID] {
				continue
			}
			seen[row.TID] = true
			out = append(out, domain.Candidate{
				ThreadID: row.TID,
				Title:    row.Title,
				Author:   row.Author,
				PostedAt: row.PostedAt,
				Locked:   row.Locked,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out, nil
}

package monitor

import (
	"context"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/forum"
)

// Source is the slice of the forum client discovery needs.
type Source interface {
	Probe(ctx context.Context, fid int, lastPID int64) (forum.ProbeResponse, error)
	ThreadList(ctx context.Context, fid, page int) ([]forum.ThreadRow, error)
}

// Acquirer turns a candidate into a normalized post.
type Acquirer interface {
	Acquire(ctx context.Context, section domain.Section, cand domain.Candidate) (domain.Post, error)
}

// Dispatcher delivers a post to the section's channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, section domain.Section, post domain.Post) (int, error)
}

// WatermarkStore persists per-section positions.
type WatermarkStore interface {
	Get(fid int) (domain.Watermark, error)
	Put(fid int, w domain.Watermark) error
}

// CredentialReporter is told when the forum rejects the session.
type CredentialReporter interface {
	ReportCredentialFailure(ctx context.Context, source string, err error)
}

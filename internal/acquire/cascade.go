// Package acquire resolves the full content of a candidate through an ordered list of
// strategies, from the cheapest to the most expensive.
package acquire

import (
	"context"
	"errors"
	"strings"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/Adda-Baaj/discuz-sentinel/internal/metrics"
)

// Outcome tags a strategy result.
type Outcome int

const (
	// Unavailable means the strategy produced nothing usable; the next one runs.
	Unavailable Outcome = iota
	// Insufficient is a usable partial kept as fallback while richer strategies run.
	Insufficient
	// Success stops the cascade.
	Success
	// Fatal stops the cascade without content.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Insufficient:
		return "insufficient"
	case Fatal:
		return "fatal"
	default:
		return "unavailable"
	}
}

// RestrictedBody replaces the body of posts the session may not read.
const RestrictedBody = "⚠️ 权限不足，无法查看帖子内容"

// LockedPrefix marks closed threads in list mode.
const LockedPrefix = "🔒 "

// ErrNoContent is returned when every strategy was unavailable.
var ErrNoContent = errors.New("no strategy produced content")

// Result is a strategy's tagged answer.
type Result struct {
	Outcome Outcome
	Post    domain.Post
	Err     error
}

// Strategy is one way of obtaining a candidate's content.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, section domain.Section, cand domain.Candidate) Result
}

// CredentialReporter is told about possible session expiry.
type CredentialReporter interface {
	ReportCredentialFailure(ctx context.Context, source string, err error)
}

// Cascade runs strategies in order.
type Cascade struct {
	strategies []Strategy
	markers    []string
	log        logger.Logger
}

// NewCascade builds a cascade. markers are the restricted-content phrases.
func NewCascade(log logger.Logger, markers []string, strategies ...Strategy) *Cascade {
	return &Cascade{strategies: strategies, markers: markers, log: logger.Ensure(log)}
}

// Acquire returns the best post for cand. It stops at the first Success or Fatal, falls
// back to the first Insufficient result, and returns ErrNoContent when nothing worked.
// Context cancellation is returned as is.
func (c *Cascade) Acquire(ctx context.Context, section domain.Section, cand domain.Candidate) (domain.Post, error) {
	var fallback *Result
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return domain.Post{}, err
		}
		res := s.Acquire(ctx, section, cand)
		metrics.ObserveStrategy(s.Name(), res.Outcome.String())

		switch res.Outcome {
		case Fatal:
			c.log.WarnObj("acquisition aborted", "strategy", c.describe(s, cand, res.Err))
			if res.Err == nil {
				res.Err = ErrNoContent
			}
			return domain.Post{}, res.Err
		case Unavailable:
			c.log.DebugObj("strategy unavailable", "strategy", c.describe(s, cand, res.Err))
			continue
		}

		if c.restricted(res.Post.Body) {
			c.log.InfoObj("restricted post", "strategy", c.describe(s, cand, nil))
			return c.finish(placeholder(res.Post), fallback, cand), nil
		}
		if res.Outcome == Success {
			return c.finish(res.Post, fallback, cand), nil
		}
		if fallback == nil {
			r := res
			fallback = &r
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.Post{}, err
	}
	if fallback != nil {
		return c.finish(fallback.Post, nil, cand), nil
	}
	return domain.Post{}, ErrNoContent
}

func (c *Cascade) restricted(body string) bool {
	for _, m := range c.markers {
		if m != "" && strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// finish fills metadata a later strategy lacked from the fallback and marks locked threads.
func (c *Cascade) finish(post domain.Post, fallback *Result, cand domain.Candidate) domain.Post {
	if fallback != nil {
		fb := fallback.Post
		if post.Subject == "" {
			post.Subject = fb.Subject
		}
		if post.Author == "" {
			post.Author = fb.Author
		}
		if post.PostedAt == "" {
			post.PostedAt = fb.PostedAt
		}
		if post.SourceURL == "" {
			post.SourceURL = fb.SourceURL
		}
	}
	if post.Subject == "" {
		post.Subject = "新动态"
	}
	if post.Author == "" {
		post.Author = "未知"
	}
	if post.PostID == 0 {
		post.PostID = cand.PostID
	}
	if post.ThreadID == 0 {
		post.ThreadID = cand.ThreadID
	}
	if cand.Locked && !strings.HasPrefix(post.Subject, LockedPrefix) {
		post.Subject = LockedPrefix + post.Subject
	}
	return post
}

func (c *Cascade) describe(s Strategy, cand domain.Candidate, err error) map[string]any {
	out := map[string]any{"name": s.Name(), "pid": cand.PostID, "tid": cand.ThreadID}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

func placeholder(p domain.Post) domain.Post {
	p.Body = RestrictedBody
	p.Images = nil
	p.Restricted = true
	return p
}

package acquire

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Adda-Baaj/discuz-sentinel/internal/backoff"
	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/Adda-Baaj/discuz-sentinel/internal/metrics"
	"github.com/Adda-Baaj/discuz-sentinel/internal/normalize"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/forum"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
)

const inlineSubjectRunes = 30

// ThreadSource is the slice of the forum client the strategies need.
type ThreadSource interface {
	ThreadDetail(ctx context.Context, tid int64) (forum.ThreadResponse, error)
	ThreadPage(ctx context.Context, tid, pid int64) (string, error)
	ThreadURL(tid int64) string
	SectionURL(fid int) string
}

// DefaultThreadPolicy retries transport faults on the thread API: 3 attempts, 2s then 4s.
func DefaultThreadPolicy() backoff.Policy {
	return backoff.Policy{Attempts: 3, Delay: 2 * time.Second, RetryIf: httpclient.IsTransient}
}

// Inline uses the HTML already carried by the probe payload.
type Inline struct {
	forum ThreadSource
	norm  *normalize.Normalizer
}

// NewInline builds the inline strategy.
func NewInline(src ThreadSource, norm *normalize.Normalizer) *Inline {
	return &Inline{forum: src, norm: norm}
}

func (s *Inline) Name() string { return "inline" }

// Acquire returns Insufficient when a thread id is known so the richer strategies run first.
func (s *Inline) Acquire(_ context.Context, section domain.Section, cand domain.Candidate) Result {
	if strings.TrimSpace(cand.RawHTML) == "" {
		return Result{Outcome: Unavailable}
	}
	body, images := s.norm.Normalize(cand.RawHTML)
	post := domain.Post{
		Subject:   cand.Title,
		Author:    cand.Author,
		PostedAt:  forum.FormatDateline(cand.PostedAt),
		Body:      body,
		Images:    images,
		SectionID: section.ID,
		PostID:    cand.PostID,
		ThreadID:  cand.ThreadID,
	}
	if post.Subject == "" {
		post.Subject = inlineSubject(body)
	}
	if cand.ThreadID > 0 {
		post.SourceURL = s.forum.ThreadURL(cand.ThreadID)
		return Result{Outcome: Insufficient, Post: post}
	}
	post.SourceURL = s.forum.SectionURL(section.ID)
	return Result{Outcome: Success, Post: post}
}

func inlineSubject(body string) string {
	text := strings.TrimSpace(normalize.ReplaceMarkers(body, func(string) string { return "" }))
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "新动态"
	}
	if utf8.RuneCountInString(text) <= inlineSubjectRunes {
		return text
	}
	return string([]rune(text)[:inlineSubjectRunes]) + "..."
}

// ThreadAPI reads the mobile viewthread endpoint. It is the only retried strategy.
type ThreadAPI struct {
	forum    ThreadSource
	norm     *normalize.Normalizer
	policy   backoff.Policy
	reporter CredentialReporter
	log      logger.Logger
}

// NewThreadAPI builds the thread API strategy. reporter may be nil.
func NewThreadAPI(src ThreadSource, norm *normalize.Normalizer, policy backoff.Policy, reporter CredentialReporter, log logger.Logger) *ThreadAPI {
	return &ThreadAPI{forum: src, norm: norm, policy: policy, reporter: reporter, log: logger.Ensure(log)}
}

func (s *ThreadAPI) Name() string { return "thread_api" }

func (s *ThreadAPI) Acquire(ctx context.Context, section domain.Section, cand domain.Candidate) Result {
	if cand.ThreadID <= 0 {
		return Result{Outcome: Unavailable}
	}

	policy := s.policy
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(n uint, err error) {
		metrics.ObserveRetry("thread_api")
		s.log.WarnObj("thread api failed, retrying", "thread", map[string]any{"tid": cand.ThreadID, "attempt": n + 1, "error": err.Error()})
		if userOnRetry != nil {
			userOnRetry(n, err)
		}
	}

	var resp forum.ThreadResponse
	err := backoff.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		resp, err = s.forum.ThreadDetail(ctx, cand.ThreadID)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: Fatal, Err: ctx.Err()}
		}
		var ce *forum.CredentialError
		if errors.As(err, &ce) && s.reporter != nil {
			s.reporter.ReportCredentialFailure(ctx, "thread_api", err)
		}
		return Result{Outcome: Unavailable, Err: err}
	}

	var (
		target forum.ThreadPost
		ok     bool
	)
	if cand.PostID > 0 {
		target, ok = resp.Post(cand.PostID)
	} else {
		target, ok = resp.FirstPost()
	}
	if !ok {
		return Result{Outcome: Unavailable, Err: errors.New("target post not in thread api page")}
	}

	body, images := s.norm.Normalize(target.Message)
	tid := int64(resp.Variables.Thread.TID)
	if tid <= 0 {
		tid = cand.ThreadID
	}
	subject := strings.TrimSpace(string(resp.Variables.Thread.Subject))
	if subject == "" {
		subject = cand.Title
	}
	return Result{Outcome: Success, Post: domain.Post{
		Subject:   subject,
		Author:    string(target.Author),
		PostedAt:  forum.FormatDateline(string(target.Dateline)),
		Body:      body,
		Images:    images,
		SourceURL: s.forum.ThreadURL(tid),
		SectionID: section.ID,
		PostID:    int64(target.PID),
		ThreadID:  tid,
	}}
}

// WebPage scrapes the thread's HTML page. It is not retried.
type WebPage struct {
	forum ThreadSource
	norm  *normalize.Normalizer
}

// NewWebPage builds the web page strategy.
func NewWebPage(src ThreadSource, norm *normalize.Normalizer) *WebPage {
	return &WebPage{forum: src, norm: norm}
}

func (s *WebPage) Name() string { return "web_page" }

func (s *WebPage) Acquire(ctx context.Context, section domain.Section, cand domain.Candidate) Result {
	if cand.ThreadID <= 0 {
		return Result{Outcome: Unavailable}
	}
	raw, err := s.forum.ThreadPage(ctx, cand.ThreadID, cand.PostID)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: Fatal, Err: ctx.Err()}
		}
		return Result{Outcome: Unavailable, Err: err}
	}
	body, images := s.norm.Normalize(raw)
	if body == "" && len(images) == 0 {
		return Result{Outcome: Unavailable, Err: errors.New("empty post container")}
	}
	return Result{Outcome: Success, Post: domain.Post{
		Subject:   cand.Title,
		Author:    cand.Author,
		PostedAt:  forum.FormatDateline(cand.PostedAt),
		Body:      body,
		Images:    images,
		SourceURL: s.forum.ThreadURL(cand.ThreadID),
		SectionID: section.ID,
		PostID:    cand.PostID,
		ThreadID:  cand.ThreadID,
	}}
}

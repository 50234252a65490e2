package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/backoff"
	"github.com/Adda-Baaj/discuz-sentinel/internal/config"
	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/normalize"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/forum"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeForum struct {
	detailErrs  []error
	detailBody  string
	detailCalls int
	page        string
	pageErr     error
	pageCalls   int
}

func (f *fakeForum) ThreadDetail(_ context.Context, _ int64) (forum.ThreadResponse, error) {
	f.detailCalls++
	if len(f.detailErrs) >= f.detailCalls {
		if err := f.detailErrs[f.detailCalls-1]; err != nil {
			return forum.ThreadResponse{}, err
		}
	}
	var out forum.ThreadResponse
	if f.detailBody == "" {
		return out, errors.New("decode viewthread: unexpected end of JSON input")
	}
	err := json.Unmarshal([]byte(f.detailBody), &out)
	return out, err
}

func (f *fakeForum) ThreadPage(_ context.Context, _, _ int64) (string, error) {
	f.pageCalls++
	return f.page, f.pageErr
}

func (f *fakeForum) ThreadURL(tid int64) string {
	return fmt.Sprintf("https://forum.example/thread-%d-1-1.html", tid)
}
func (f *fakeForum) SectionURL(fid int) string {
	return fmt.Sprintf("https://forum.example/group-%d-1.html", fid)
}

type recordingReporter struct{ calls []string }

func (r *recordingReporter) ReportCredentialFailure(_ context.Context, source string, _ error) {
	r.calls = append(r.calls, source)
}

const threadBody = `{"Variables":{"thread":{"tid":"55","subject":"API 标题"},"postlist":[
	{"pid":"100","author":"alice","dateline":"1766639300","message":"API 正文<img file=\"data/a.jpg\">","first":"1"},
	{"pid":"101","author":"bob","message":"回复"}]}}`

func buildCascade(t *testing.T, f *fakeForum, rep CredentialReporter) *Cascade {
	t.Helper()
	norm, err := normalize.New("https://forum.example")
	require.NoError(t, err)
	policy := backoff.Policy{Attempts: 3, Delay: time.Millisecond, RetryIf: httpclient.IsTransient}
	return NewCascade(nil, config.DefaultRestrictedMarkers,
		NewInline(f, norm),
		NewThreadAPI(f, norm, policy, rep, nil),
		NewWebPage(f, norm),
	)
}

var section = domain.Section{ID: 147, Name: "A"}

func TestCascadePrefersThreadAPI(t *testing.T) {
	f := &fakeForum{detailBody: threadBody}
	c := buildCascade(t, f, nil)

	post, err := c.Acquire(context.Background(), section, domain.Candidate{
		PostID: 100, ThreadID: 55, RawHTML: "inline 正文", Author: "inline-author",
	})
	require.NoError(t, err)
	assert.Equal(t, "API 标题", post.Subject)
	assert.Equal(t, "alice", post.Author)
	assert.Equal(t, "2025-12-25 13:08:20", post.PostedAt)
	assert.Equal(t, []string{"https://forum.example/data/a.jpg"}, post.Images)
	assert.Equal(t, "https://forum.example/thread-55-1-1.html", post.SourceURL)
	assert.Equal(t, 147, post.SectionID)
	assert.Equal(t, 0, f.pageCalls)
}

func TestCascadeInlineWithoutThreadID(t *testing.T) {
	f := &fakeForum{}
	c := buildCascade(t, f, nil)

	post, err := c.Acquire(context.Background(), section, domain.Candidate{PostID: 9, RawHTML: "<p>只有内联内容</p>", Author: "carol"})
	require.NoError(t, err)
	assert.Equal(t, "只有内联内容", post.Body)
	assert.Equal(t, "只有内联内容", post.Subject)
	assert.Equal(t, "https://forum.example/group-147-1.html", post.SourceURL)
	assert.Equal(t, 0, f.detailCalls)
}

func TestCascadeFallsThroughToWebPageWhenPidMissing(t *testing.T) {
	f := &fakeForum{detailBody: threadBody, page: "网页 <b>正文</b>"}
	c := buildCascade(t, f, nil)

	post, err := c.Acquire(context.Background(), section, domain.Candidate{PostID: 999, ThreadID: 55, RawHTML: "内联", Author: "dave"})
	require.NoError(t, err)
	assert.Equal(t, "网页 **正文**", post.Body)
	assert.Equal(t, "内联", post.Subject, "subject comes from the inline fallback")
	assert.Equal(t, "dave", post.Author)
	assert.Equal(t, 1, f.detailCalls, "structural misses are not retried")
	assert.Equal(t, 1, f.pageCalls)
}

func TestCascadeUsesInlineFallbackWhenOthersFail(t *testing.T) {
	f := &fakeForum{detailErrs: []error{errors.New("bad json")}, pageErr: forum.ErrNoContainer}
	c := buildCascade(t, f, nil)

	post, err := c.Acquire(context.Background(), section, domain.Candidate{PostID: 1, ThreadID: 2, RawHTML: "兜底内容"})
	require.NoError(t, err)
	assert.Equal(t, "兜底内容", post.Body)
	assert.Equal(t, "未知", post.Author)
}

func TestCascadeNoContent(t *testing.T) {
	f := &fakeForum{pageErr: forum.ErrNoContainer}
	c := buildCascade(t, f, nil)

	_, err := c.Acquire(context.Background(), section, domain.Candidate{ThreadID: 2, Title: "标题"})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestThreadAPIRetriesTransientFaults(t *testing.T) {
	reset := fmt.Errorf("viewthread: %w", syscall.ECONNRESET)
	f := &fakeForum{detailErrs: []error{reset, io.ErrUnexpectedEOF}, detailBody: threadBody}
	c := buildCascade(t, f, nil)

	post, err := c.Acquire(context.Background(), section, domain.Candidate{PostID: 101, ThreadID: 55})
	require.NoError(t, err)
	assert.Equal(t, "回复", post.Body)
	assert.Equal(t, 3, f.detailCalls)
}

type instantTimer struct {
	waits []time.Duration
}

func (t *instantTimer) After(d time.Duration) <-chan time.Time {
	t.waits = append(t.waits, d)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func TestThreadAPIDefaultPolicyWaitsTwoThenFourSeconds(t *testing.T) {
	reset := fmt.Errorf("viewthread: %w", syscall.ECONNRESET)
	f := &fakeForum{detailErrs: []error{reset, reset}, detailBody: threadBody}
	norm, err := normalize.New("https://forum.example")
	require.NoError(t, err)
	timer := &instantTimer{}
	policy := DefaultThreadPolicy()
	policy.Timer = timer

	res := NewThreadAPI(f, norm, policy, nil, nil).Acquire(context.Background(), section, domain.Candidate{PostID: 101, ThreadID: 55})

	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, 3, f.detailCalls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, timer.waits)
}

func TestThreadAPICredentialFailureIsReported(t *testing.T) {
	f := &fakeForum{
		detailErrs: []error{&forum.CredentialError{Endpoint: "viewthread", Marker: "nopermission"}},
		page:       "网页内容",
	}
	rep := &recordingReporter{}
	c := buildCascade(t, f, rep)

	post, err := c.Acquire(context.Background(), section, domain.Candidate{ThreadID: 55, Title: "列表标题"})
	require.NoError(t, err)
	assert.Equal(t, []string{"thread_api"}, rep.calls)
	assert.Equal(t, 1, f.detailCalls)
	assert.Equal(t, "网页内容", post.Body)
	assert.Equal(t, "列表标题", post.Subject)
}

func TestCascadeRestrictedPlaceholder(t *testing.T) {
	f := &fakeForum{page: "<div>抱歉，本帖要求阅读权限高于 50 才能浏览</div>"}
	c := buildCascade(t, f, nil)

	post, err := c.Acquire(context.Background(), section, domain.Candidate{ThreadID: 55, Title: "受限", Locked: true})
	require.NoError(t, err)
	assert.True(t, post.Restricted)
	assert.Equal(t, RestrictedBody, post.Body)
	assert.Equal(t, LockedPrefix+"受限", post.Subject)
	assert.Empty(t, post.Images)
}

func TestCascadeStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeForum{detailBody: threadBody}
	c := buildCascade(t, f, nil)

	_, err := c.Acquire(ctx, section, domain.Candidate{PostID: 100, ThreadID: 55, RawHTML: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.detailCalls)
}

func TestFirstPostTargetInListMode(t *testing.T) {
	f := &fakeForum{detailBody: threadBody}
	c := buildCascade(t, f, nil)

	post, err := c.Acquire(context.Background(), section, domain.Candidate{ThreadID: 55, Title: "列表"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), post.PostID)
	assert.Equal(t, "alice", post.Author)
}

func TestInlineSubjectTruncates(t *testing.T) {
	long := "一二三四五六七八九十一二三四五六七八九十一二三四五六七八九十多余"
	assert.Equal(t, "一二三四五六七八九十一二三四五六七八九十一二三四五六七八九十...", inlineSubject(long))
	assert.Equal(t, "新动态", inlineSubject(normalize.Marker("https://x/a.png")))
}

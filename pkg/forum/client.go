package forum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const (
	markerNotLoggedIn  = "not_loggedin"
	markerNoPermission = "nopermission"
	markerGatewayBody  = "504 Gateway Time-out"
)

var (
	threadIDPattern = regexp.MustCompile(`(?:thread-|[?&]tid=)(\d+)`)
	rowIDPattern    = regexp.MustCompile(`^normalthread_(\d+)$`)
	tagPattern      = regexp.MustCompile(`<[^>]*>`)
	spanTitle       = regexp.MustCompile(`title="([^"]+)"`)

	forumZone = time.FixedZone("CST", 8*60*60)
)

// Client calls the forum over one long-lived session. The session cookie and user agent
// live on the underlying httpclient.Client.
type Client struct {
	base string
	http httpclient.Client
}

// NewClient builds a forum client rooted at baseURL.
func NewClient(baseURL string, client httpclient.Client) *Client {
	return &Client{base: strings.TrimRight(strings.TrimSpace(baseURL), "/"), http: client}
}

// BaseURL returns the forum origin without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

// ThreadURL is the canonical first page of a thread.
func (c *Client) ThreadURL(tid int64) string {
	return fmt.Sprintf("%s/thread-%d-1-1.html", c.base, tid)
}

// SectionURL is the landing page of a section.
func (c *Client) SectionURL(fid int) string {
	return fmt.Sprintf("%s/group-%d-1.html", c.base, fid)
}

// Probe asks for posts in fid newer than lastPID. It makes a single attempt.
func (c *Client) Probe(ctx context.Context, fid int, lastPID int64) (ProbeResponse, error) {
	query := map[string]string{
		"mod":    "misc",
		"action": "livelastpost",
		"type":   "post",
		"fid":    strconv.Itoa(fid),
		"postid": strconv.FormatInt(lastPID, 10),
	}
	headers := map[string]string{
		"Referer":          c.SectionURL(fid),
		"Accept":           "application/json",
		"X-Requested-With": "XMLHttpRequest",
	}
	resp, err := c.http.Get(ctx, c.base+"/forum.php", query, headers)
	if err != nil {
		return ProbeResponse{}, fmt.Errorf("probe fid %d: %w", fid, err)
	}
	body := resp.Body()
	if err := checkStatus("livelastpost", resp.StatusCode(), body); err != nil {
		return ProbeResponse{}, err
	}
	if bytes.Contains(body, []byte(markerNotLoggedIn)) {
		return ProbeResponse{}, &CredentialError{Endpoint: "livelastpost", Marker: markerNotLoggedIn}
	}

	var out ProbeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ProbeResponse{}, fmt.Errorf("decode livelastpost fid %d: %w (body: %s)", fid, err, httpclient.Snippet(body))
	}
	return out, nil
}

// ThreadDetail fetches the structured thread view. A nopermission body yields a
// CredentialError because it usually means the session expired.
func (c *Client) ThreadDetail(ctx context.Context, tid int64) (ThreadResponse, error) {
	query := map[string]string{
		"version": "4",
		"module":  "viewthread",
		"tid":     strconv.FormatInt(tid, 10),
	}
	resp, err := c.http.Get(ctx, c.base+"/api/mobile/index.php", query, nil)
	if err != nil {
		return ThreadResponse{}, fmt.Errorf("viewthread tid %d: %w", tid, err)
	}
	body := resp.Body()
	if err := checkStatus("viewthread", resp.StatusCode(), body); err != nil {
		return ThreadResponse{}, err
	}
	if bytes.Contains(body, []byte(markerNoPermission)) {
		return ThreadResponse{}, &CredentialError{Endpoint: "viewthread", Marker: markerNoPermission}
	}

	var out ThreadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ThreadResponse{}, fmt.Errorf("decode viewthread tid %d: %w (body: %s)", tid, err, httpclient.Snippet(body))
	}
	return out, nil
}

// ThreadList scrapes one page of a section's thread index.
func (c *Client) ThreadList(ctx context.Context, fid, page int) ([]ThreadRow, error) {
	query := map[string]string{
		"mod":  "forumdisplay",
		"fid":  strconv.Itoa(fid),
		"page": strconv.Itoa(page),
	}
	doc, err := c.document(ctx, "forumdisplay", c.base+"/forum.php", query)
	if err != nil {
		return nil, fmt.Errorf("list fid %d page %d: %w", fid, page, err)
	}
	return parseThreadRows(doc), nil
}

// ThreadPage fetches the thread's HTML page and returns the inner HTML of the post
// container: #postmessage_<pid> when pid is known, else the first td.t_f.
func (c *Client) ThreadPage(ctx context.Context, tid, pid int64) (string, error) {
	doc, err := c.document(ctx, "thread page", c.ThreadURL(tid), nil)
	if err != nil {
		return "", fmt.Errorf("thread page tid %d: %w", tid, err)
	}
	var node *goquery.Selection
	if pid > 0 {
		node = doc.Find(fmt.Sprintf("#postmessage_%d", pid)).First()
	}
	if node == nil || node.Length() == 0 {
		node = doc.Find("td.t_f").First()
	}
	if node.Length() == 0 {
		return "", fmt.Errorf("thread page tid %d: %w", tid, ErrNoContainer)
	}
	return node.Html()
}

func (c *Client) document(ctx context.Context, endpoint, url string, query map[string]string) (*goquery.Document, error) {
	resp, err := c.http.Get(ctx, url, query, nil)
	if err != nil {
		return nil, err
	}
	body := resp.Body()
	if err := checkStatus(endpoint, resp.StatusCode(), body); err != nil {
		return nil, err
	}
	reader, err := charset.NewReader(bytes.NewReader(body), resp.Header().Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode %s charset: %w", endpoint, err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse %s html: %w", endpoint, err)
	}
	return doc, nil
}

func checkStatus(endpoint string, code int, body []byte) error {
	if code != http.StatusOK {
		return &StatusError{Endpoint: endpoint, Code: code, Body: httpclient.Snippet(body)}
	}
	if bytes.Contains(body, []byte(markerGatewayBody)) {
		return &StatusError{Endpoint: endpoint, Code: http.StatusGatewayTimeout, Body: httpclient.Snippet(body)}
	}
	return nil
}

func parseThreadRows(doc *goquery.Document) []ThreadRow {
	var rows []ThreadRow
	doc.Find(`tbody[id^="normalthread_"]`).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		m := rowIDPattern.FindStringSubmatch(id)
		if m == nil {
			return
		}
		tid, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || tid <= 0 {
			return
		}

		title := s.Find("a.s.xst").First()
		if title.Length() == 0 {
			title = s.Find("th a.xst").First()
		}

		by := s.Find("td.by").First()
		posted := by.Find("em span").First()
		postedAt, ok := posted.Attr("title")
		if !ok || strings.TrimSpace(postedAt) == "" {
			postedAt = posted.Text()
		}
		if strings.TrimSpace(postedAt) == "" {
			postedAt = by.Find("em").First().Text()
		}

		locked := s.Find(`img[src*="folder_lock"], img[alt="lock"], img[title*="关闭"]`).Length() > 0

		rows = append(rows, ThreadRow{
			TID:      tid,
			Title:    strings.TrimSpace(title.Text()),
			Author:   strings.TrimSpace(by.Find("cite a").First().Text()),
			PostedAt: strings.TrimSpace(postedAt),
			Locked:   locked,
		})
	})
	return rows
}

// ThreadIDFromHTML finds the first thread id linked from a post body.
func ThreadIDFromHTML(html string) int64 {
	m := threadIDPattern.FindStringSubmatch(html)
	if m == nil {
		return 0
	}
	tid, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return tid
}

// FormatDateline renders a Discuz dateline: unix seconds become local forum time,
// markup such as <span title="..."> is reduced to its timestamp text.
func FormatDateline(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return time.Unix(n, 0).In(forumZone).Format("2006-01-02 15:04:05")
	}
	if m := spanTitle.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	s = tagPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.ReplaceAll(s, "&nbsp;", " "))
}

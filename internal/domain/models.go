package domain

// Domain contains core models shared across the pipeline.

import "strconv"

// Section is a monitored forum sub-board.
type Section struct {
	ID        int      `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	ListPages int      `json:"list_pages" yaml:"list_pages"`
	Channels  []string `json:"channels" yaml:"channels"`
}

// Key returns the section id in the string form used by state files and metric labels.
func (s Section) Key() string {
	return strconv.Itoa(s.ID)
}

// Watermark is the highest post/thread id already delivered for a section.
type Watermark struct {
	LastPID int64 `json:"last_pid"`
	LastTID int64 `json:"last_tid"`
}

// AdvancePost raises LastPID to pid; it never lowers it.
func (w Watermark) AdvancePost(pid int64) Watermark {
	if pid > w.LastPID {
		w.LastPID = pid
	}
	return w
}

// AdvanceThread raises LastTID to tid; it never lowers it.
func (w Watermark) AdvanceThread(tid int64) Watermark {
	if tid > w.LastTID {
		w.LastTID = tid
	}
	return w
}

// Merge returns the field-wise maximum of both watermarks.
func (w Watermark) Merge(other Watermark) Watermark {
	return w.AdvancePost(other.LastPID).AdvanceThread(other.LastTID)
}

// Candidate is a post or thread discovered by polling that has not been confirmed delivered.
type Candidate struct {
	PostID   int64
	ThreadID int64
	Title    string
	Author   string
	RawHTML  string
	PostedAt string
	Locked   bool
}

// Post is a normalized post ready for dispatch.
type Post struct {
	Subject    string   `json:"subject"`
	Author     string   `json:"author"`
	PostedAt   string   `json:"posted_at"`
	Body       string   `json:"body_markdown"`
	Images     []string `json:"image_urls"`
	SourceURL  string   `json:"source_url"`
	SectionID  int      `json:"section_id"`
	PostID     int64    `json:"post_id,omitempty"`
	ThreadID   int64    `json:"thread_id,omitempty"`
	Restricted bool     `json:"restricted,omitempty"`
}

// RehostedImage is the result of re-uploading a forum image.
type RehostedImage struct {
	SourceURL string `json:"source_url"`
	HostedURL string `json:"hosted_url"`
	Provider  string `json:"provider"`
	AssetKey  string `json:"asset_key,omitempty"`
}

// Rehosted reports whether the image now lives somewhere other than the forum.
func (r RehostedImage) Rehosted() bool {
	return r.AssetKey != "" || (r.HostedURL != "" && r.HostedURL != r.SourceURL)
}

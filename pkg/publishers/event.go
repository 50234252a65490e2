package publishers

import (
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
)

// Event kinds.
const (
	KindPost  = "post"
	KindAlert = "alert"
)

// Event represents the payload published downstream.
type Event struct {
	Kind        string      `json:"kind"`
	SectionID   int         `json:"section_id,omitempty"`
	SectionName string      `json:"section_name,omitempty"`
	Post        domain.Post `json:"post"`
	CollectedAt time.Time   `json:"collected_at"`
}

// NewEvent constructs a post Event for the given section.
func NewEvent(section domain.Section, post domain.Post) Event {
	return Event{
		Kind:        KindPost,
		SectionID:   section.ID,
		SectionName: section.Name,
		Post:        post,
		CollectedAt: time.Now().UTC(),
	}
}

// NewAlertEvent constructs a system alert. Alerts carry no images or source link.
func NewAlertEvent(subject, body string) Event {
	return Event{
		Kind: KindAlert,
		Post: domain.Post{
			Subject:  subject,
			Author:   "DiscuzSentinel",
			PostedAt: time.Now().In(cst).Format(timeLayout),
			Body:     body,
		},
		CollectedAt: time.Now().UTC(),
	}
}

// IsAlert reports whether the event is a system alert.
func (e Event) IsAlert() bool { return e.Kind == KindAlert }

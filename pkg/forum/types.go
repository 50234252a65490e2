package forum

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// FlexInt decodes a JSON number or numeric string; anything else is zero.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if fl, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			*f = FlexInt(fl)
			return nil
		}
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// FlexString decodes a JSON string or number into its text form.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(data)
	return nil
}

// ProbeItem is one post in a livelastpost response.
type ProbeItem struct {
	PID      FlexInt    `json:"pid"`
	Author   FlexString `json:"author"`
	Dateline FlexString `json:"dateline"`
	Message  string     `json:"message"`
}

// ProbeResponse is the livelastpost payload. List arrives as an array or as an index-keyed object.
type ProbeResponse struct {
	Count FlexInt     `json:"count"`
	List  []ProbeItem `json:"-"`
}

func (p *ProbeResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Count FlexInt         `json:"count"`
		List  json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Count = raw.Count
	p.List = nil
	list := bytes.TrimSpace(raw.List)
	if len(list) == 0 || string(list) == "null" {
		return nil
	}
	if list[0] == '[' {
		return json.Unmarshal(list, &p.List)
	}
	var keyed map[string]ProbeItem
	if err := json.Unmarshal(list, &keyed); err != nil {
		return err
	}
	for _, item := range keyed {
		p.List = append(p.List, item)
	}
	return nil
}

// Ascending returns the items ordered by pid.
func (p ProbeResponse) Ascending() []ProbeItem {
	out := append([]ProbeItem(nil), p.List...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// ThreadPost is one entry in Variables.postlist.
type ThreadPost struct {
	PID      FlexInt    `json:"pid"`
	Author   FlexString `json:"author"`
	Dateline FlexString `json:"dateline"`
	Message  string     `json:"message"`
	First    FlexString `json:"first"`
	Position FlexInt    `json:"position"`
}

// ThreadResponse is the mobile viewthread payload.
type ThreadResponse struct {
	Variables struct {
		Thread struct {
			TID     FlexInt    `json:"tid"`
			Subject FlexString `json:"subject"`
			Author  FlexString `json:"author"`
		} `json:"thread"`
		PostList []ThreadPost `json:"postlist"`
	} `json:"Variables"`
}

// Post returns the entry with the given pid.
func (t ThreadResponse) Post(pid int64) (ThreadPost, bool) {
	for _, p := range t.Variables.PostList {
		if int64(p.PID) == pid {
			return p, true
		}
	}
	return ThreadPost{}, false
}

// FirstPost returns the thread's opening post: first == "1", else the lowest position.
func (t ThreadResponse) FirstPost() (ThreadPost, bool) {
	list := t.Variables.PostList
	if len(list) == 0 {
		return ThreadPost{}, false
	}
	for _, p := range list {
		if strings.TrimSpace(string(p.First)) == "1" {
			return p, true
		}
	}
	best := list[0]
	for _, p := range list[1:] {
		if p.Position > 0 && (best.Position == 0 || p.Position < best.Position) {
			best = p
		}
	}
	return best, true
}

// ThreadRow is a thread scraped from a forumdisplay listing.
type ThreadRow struct {
	TID      int64
	Title    string
	Author   string
	PostedAt string
	Locked   bool
}

package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Adda-Baaj/discuz-sentinel/internal/config"
	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/forum"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/publishers"
)

// Level grades a configuration finding.
type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelError
)

func (l Level) symbol() string {
	switch l {
	case LevelOK:
		return "✅"
	case LevelWarn:
		return "⚠️ "
	default:
		return "❌"
	}
}

// Finding is one line of the configuration report.
type Finding struct {
	Level   Level
	Message string
	Hints   []string
}

// Report is the result of CheckConfig, in check order.
type Report struct {
	Findings []Finding
}

func (r *Report) add(level Level, msg string, hints ...string) {
	r.Findings = append(r.Findings, Finding{Level: level, Message: msg, Hints: hints})
}

// Failed reports whether any finding is an error.
func (r Report) Failed() bool {
	for _, f := range r.Findings {
		if f.Level == LevelError {
			return true
		}
	}
	return false
}

// Write renders the report for a terminal.
func (r Report) Write(w io.Writer) error {
	rule := strings.Repeat("=", 60)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nDiscuzSentinel configuration check\n%s\n", rule, rule)
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "%s %s\n", f.Level.symbol(), f.Message)
		for _, h := range f.Hints {
			fmt.Fprintf(&b, "   %s\n", h)
		}
	}
	fmt.Fprintf(&b, "%s\n", rule)
	_, err := io.WriteString(w, b.String())
	return err
}

// CheckConfig inspects cfg and the files it points at without contacting the forum or
// any channel.
func CheckConfig(cfg *config.Config, envFile string) Report {
	var r Report
	if cfg == nil {
		r.add(LevelError, "configuration could not be loaded")
		return r
	}

	checkCookie(&r, cfg.ForumCookie)

	sections, err := forum.LoadSections(cfg.SectionsFile)
	if err != nil {
		r.add(LevelError, fmt.Sprintf("sections file invalid: %v", err), "set SECTIONS_FILE or edit "+cfg.SectionsFile)
	} else {
		ids := make([]string, 0, len(sections))
		for _, s := range sections {
			ids = append(ids, s.Key())
		}
		r.add(LevelOK, fmt.Sprintf("monitoring %d section(s): %s (mode %s)", len(sections), strings.Join(ids, ", "), cfg.DiscoveryMode))
	}

	channels, err := publishers.LoadRegistry(cfg.ChannelsFile)
	if err != nil {
		r.add(LevelError, fmt.Sprintf("channels file invalid: %v", err), "set CHANNELS_FILE or edit "+cfg.ChannelsFile)
	} else {
		checkChannels(&r, cfg, channels, sections)
	}

	if cfg.ImageUploadURL != "" {
		r.add(LevelOK, "image host configured")
	} else {
		r.add(LevelWarn, "image host not configured; markdown channels will link images on the forum")
	}

	switch cfg.StorageType {
	case "none", "disabled", "memory":
		r.add(LevelWarn, "watermarks are kept in memory only; a restart forgets every section position")
	default:
		r.add(LevelOK, fmt.Sprintf("watermarks stored in %s (%s)", statePath(cfg), cfg.StorageType))
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			r.add(LevelOK, envFile+" present")
		} else {
			r.add(LevelWarn, envFile+" not found", "copy configs/.env.example to "+envFile)
		}
	}
	return r
}

func checkCookie(r *Report, cookie string) {
	if strings.TrimSpace(cookie) == "" {
		r.add(LevelError, "forum cookie not configured",
			"set FORUM_COOKIE in the environment or the .env file",
			"copy it from the browser devtools: Network -> any forum request -> Cookie")
		return
	}
	r.add(LevelOK, fmt.Sprintf("forum cookie configured (%d chars)", len(cookie)))
	lower := strings.ToLower(cookie)
	if strings.Contains(lower, "saltkey") && strings.Contains(lower, "auth") {
		r.add(LevelOK, "cookie carries the session fields (saltkey, auth)")
	} else {
		r.add(LevelWarn, "cookie may be incomplete; expected saltkey and auth fields")
	}
}

func checkChannels(r *Report, cfg *config.Config, reg *publishers.ConfigRegistry, sections []domain.Section) {
	enabled := reg.Enabled()
	if len(enabled) == 0 {
		r.add(LevelError, "no enabled channels; nothing will be delivered")
		return
	}
	r.add(LevelOK, fmt.Sprintf("%d enabled channel(s)", len(enabled)))

	known := make(map[string]bool, len(enabled))
	for _, c := range enabled {
		known[c.ID] = true
		switch c.Type {
		case publishers.TypeFeishuAPI:
			if !cfg.FeishuEnabled() {
				r.add(LevelError, fmt.Sprintf("channel %q needs FEISHU_APP_ID and FEISHU_APP_SECRET", c.ID))
			}
		case publishers.TypeFeishu:
			if !cfg.FeishuEnabled() {
				r.add(LevelWarn, fmt.Sprintf("channel %q: Feishu app credentials missing; images are sent as links", c.ID))
			}
		}
	}

	for _, s := range sections {
		if len(s.Channels) == 0 {
			r.add(LevelWarn, fmt.Sprintf("section %d has no channels", s.ID))
			continue
		}
		for _, id := range s.Channels {
			if known[id] {
				continue
			}
			if _, declared := reg.ByID(id); declared {
				r.add(LevelWarn, fmt.Sprintf("section %d references disabled channel %q", s.ID, id))
			} else {
				r.add(LevelWarn, fmt.Sprintf("section %d references unknown channel %q", s.ID, id))
			}
		}
	}

	if alerts := reg.AlertIDs(); len(alerts) > 0 {
		r.add(LevelOK, "alert channels: "+strings.Join(alerts, ", "))
	} else {
		r.add(LevelError, "no alert channel; an expired cookie will go unnoticed",
			"set alert: true on at least one channel")
	}
}

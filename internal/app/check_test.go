package app

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(r Report, level Level) []string {
	var out []string
	for _, f := range r.Findings {
		if f.Level == level {
			out = append(out, f.Message)
		}
	}
	return out
}

func TestCheckConfigHealthySetup(t *testing.T) {
	cfg := testConfig(t, "https://forum.example", "https://sink.example/hook")
	cfg.ImageUploadURL = "https://img.example/upload"
	env := writeFile(t, t.TempDir(), ".env", "FORUM_COOKIE=x\n")

	r := CheckConfig(cfg, env)

	assert.False(t, r.Failed(), "errors: %v", messages(r, LevelError))
	assert.Empty(t, messages(r, LevelWarn))
	assert.Contains(t, messages(r, LevelOK), "cookie carries the session fields (saltkey, auth)")
	assert.Contains(t, messages(r, LevelOK), "alert channels: sink")

	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))
	assert.Contains(t, buf.String(), "DiscuzSentinel configuration check")
	assert.Contains(t, buf.String(), "✅ monitoring 1 section(s): 147 (mode probe)")
}

func TestCheckConfigFlagsMissingCookie(t *testing.T) {
	cfg := testConfig(t, "https://forum.example", "https://sink.example/hook")
	cfg.ForumCookie = ""

	r := CheckConfig(cfg, "")

	assert.True(t, r.Failed())
	assert.Contains(t, messages(r, LevelError), "forum cookie not configured")
}

func TestCheckConfigWarnsOnIncompleteCookie(t *testing.T) {
	cfg := testConfig(t, "https://forum.example", "https://sink.example/hook")
	cfg.ForumCookie = "sid=1"

	r := CheckConfig(cfg, "")

	assert.Contains(t, messages(r, LevelWarn), "cookie may be incomplete; expected saltkey and auth fields")
}

func TestCheckConfigReportsChannelProblems(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, "https://forum.example", "https://sink.example/hook")
	cfg.SectionsFile = writeFile(t, dir, "sections.yaml", `sections:
  - id: 147
    channels: [chat, ghost, muted]
  - id: 148
`)
	cfg.ChannelsFile = writeFile(t, dir, "channels.yaml", `channels:
  - id: chat
    type: feishu_api
    receive_id: oc_123
  - id: muted
    type: dingtalk
    enabled: false
    webhook_url: https://oapi.dingtalk.com/robot/send?access_token=x
`)

	r := CheckConfig(cfg, filepath.Join(dir, "missing.env"))

	assert.True(t, r.Failed())
	errs := messages(r, LevelError)
	assert.Contains(t, errs, `channel "chat" needs FEISHU_APP_ID and FEISHU_APP_SECRET`)
	assert.Contains(t, errs, "no alert channel; an expired cookie will go unnoticed")
	warns := messages(r, LevelWarn)
	assert.Contains(t, warns, `section 147 references unknown channel "ghost"`)
	assert.Contains(t, warns, `section 147 references disabled channel "muted"`)
	assert.Contains(t, warns, "section 148 has no channels")
	assert.Contains(t, warns, filepath.Join(dir, "missing.env")+" not found")
}

func TestCheckConfigInvalidFiles(t *testing.T) {
	cfg := testConfig(t, "https://forum.example", "https://sink.example/hook")
	cfg.SectionsFile = filepath.Join(t.TempDir(), "nope.yaml")
	cfg.ChannelsFile = ""

	r := CheckConfig(cfg, "")

	assert.True(t, r.Failed())
	assert.Len(t, messages(r, LevelError), 2)
}

func TestCheckConfigNil(t *testing.T) {
	assert.True(t, CheckConfig(nil, "").Failed())
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvFile is the optional dotenv file read before the environment.
const EnvFile = "configs/.env"

// Discovery modes.
const (
	ModeProbe = "probe"
	ModeList  = "list"
)

// Config holds the application configuration loaded from files and environment variables.
// It is built once at startup and treated as read-only afterwards.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	ForumBaseURL        string        `mapstructure:"forum_base_url"`
	ForumCookie         string        `mapstructure:"forum_cookie"`
	ForumUserAgent      string        `mapstructure:"forum_user_agent"`
	ForumTimeoutSeconds int64         `mapstructure:"forum_timeout_seconds"`
	ForumTimeout        time.Duration `mapstructure:"-"`

	SectionsFile  string `mapstructure:"sections_file"`
	ChannelsFile  string `mapstructure:"channels_file"`
	DiscoveryMode string `mapstructure:"discovery_mode"`

	StorageType string `mapstructure:"storage_type"`
	StatePath   string `mapstructure:"state_path"`
	BBoltPath   string `mapstructure:"bbolt_path"`

	ImageUploadURL  string `mapstructure:"image_upload_url"`
	FeishuAppID     string `mapstructure:"feishu_app_id"`
	FeishuAppSecret string `mapstructure:"feishu_app_secret"`
	FeishuAPIBase   string `mapstructure:"feishu_api_base"`

	PreviewLimit          int      `mapstructure:"preview_limit"`
	SilentBootstrap       bool     `mapstructure:"silent_bootstrap"`
	RestrictedMarkers     []string `mapstructure:"restricted_markers"`
	MetricsAddr           string   `mapstructure:"metrics_addr"`
	WebhookTimeoutSeconds int64    `mapstructure:"webhook_timeout_seconds"`

	SectionPauseMs       int64 `mapstructure:"section_pause_ms"`
	DispatchPauseMs      int64 `mapstructure:"dispatch_pause_ms"`
	ImagePauseMs         int64 `mapstructure:"image_pause_ms"`
	PassPauseMinSeconds  int64 `mapstructure:"pass_pause_min_seconds"`
	PassPauseMaxSeconds  int64 `mapstructure:"pass_pause_max_seconds"`
	ErrorCooldownSeconds int64 `mapstructure:"error_cooldown_seconds"`
	AlertCooldownSeconds int64 `mapstructure:"alert_cooldown_seconds"`

	WebhookTimeout time.Duration `mapstructure:"-"`
	SectionPause   time.Duration `mapstructure:"-"`
	DispatchPause  time.Duration `mapstructure:"-"`
	ImagePause     time.Duration `mapstructure:"-"`
	PassPauseMin   time.Duration `mapstructure:"-"`
	PassPauseMax   time.Duration `mapstructure:"-"`
	ErrorCooldown  time.Duration `mapstructure:"-"`
	AlertCooldown  time.Duration `mapstructure:"-"`
}

// DefaultRestrictedMarkers are the phrases Discuz renders in place of content the session may not read.
var DefaultRestrictedMarkers = []string{
	"抱歉，本帖要求阅读权限高于",
	"本帖隐藏的内容需要回复才可以浏览",
	"该帖被管理员或版主屏蔽",
	"此帖仅作者可见",
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load(EnvFile)

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "discuz-sentinel")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("forum_base_url", "https://www.55188.com")
	v.SetDefault("forum_cookie", "")
	v.SetDefault("forum_user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("forum_timeout_seconds", 15)
	v.SetDefault("sections_file", "./configs/sections.yaml")
	v.SetDefault("channels_file", "./configs/channels.yaml")
	v.SetDefault("discovery_mode", ModeProbe)
	v.SetDefault("storage_type", "json")
	v.SetDefault("state_path", "./data/monitor_state.json")
	v.SetDefault("bbolt_path", "./data/state.db")
	v.SetDefault("image_upload_url", "")
	v.SetDefault("feishu_app_id", "")
	v.SetDefault("feishu_app_secret", "")
	v.SetDefault("feishu_api_base", "https://open.feishu.cn/open-apis")
	v.SetDefault("preview_limit", 4000)
	v.SetDefault("silent_bootstrap", false)
	v.SetDefault("restricted_markers", DefaultRestrictedMarkers)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("webhook_timeout_seconds", 10)
	v.SetDefault("section_pause_ms", 3000)
	v.SetDefault("dispatch_pause_ms", 1500)
	v.SetDefault("image_pause_ms", 500)
	v.SetDefault("pass_pause_min_seconds", 30)
	v.SetDefault("pass_pause_max_seconds", 60)
	v.SetDefault("error_cooldown_seconds", 60)
	v.SetDefault("alert_cooldown_seconds", int64((24*time.Hour)/time.Second))
}

// finalize validates raw values and derives durations.
func (cfg *Config) finalize() error {
	cfg.ForumBaseURL = strings.TrimRight(strings.TrimSpace(cfg.ForumBaseURL), "/")
	if cfg.ForumBaseURL == "" {
		return fmt.Errorf("forum_base_url is required")
	}
	cfg.FeishuAPIBase = strings.TrimRight(strings.TrimSpace(cfg.FeishuAPIBase), "/")

	cfg.DiscoveryMode = strings.ToLower(strings.TrimSpace(cfg.DiscoveryMode))
	switch cfg.DiscoveryMode {
	case ModeProbe, ModeList:
	default:
		return fmt.Errorf("invalid discovery_mode %q (expected %q or %q)", cfg.DiscoveryMode, ModeProbe, ModeList)
	}

	if cfg.ForumTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid forum_timeout_seconds (must be positive seconds)")
	}
	if cfg.WebhookTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid webhook_timeout_seconds (must be positive seconds)")
	}
	if cfg.PassPauseMinSeconds <= 0 || cfg.PassPauseMaxSeconds < cfg.PassPauseMinSeconds {
		return fmt.Errorf("invalid pass pause range [%d, %d] seconds", cfg.PassPauseMinSeconds, cfg.PassPauseMaxSeconds)
	}
	if cfg.SectionPauseMs < 0 || cfg.DispatchPauseMs < 0 || cfg.ImagePauseMs < 0 {
		return fmt.Errorf("pause settings must not be negative")
	}
	if cfg.ErrorCooldownSeconds <= 0 {
		return fmt.Errorf("invalid error_cooldown_seconds (must be positive seconds)")
	}
	if cfg.AlertCooldownSeconds <= 0 {
		return fmt.Errorf("invalid alert_cooldown_seconds (must be positive seconds)")
	}
	if cfg.PreviewLimit < 0 {
		cfg.PreviewLimit = 0
	}
	cfg.RestrictedMarkers = trimList(cfg.RestrictedMarkers)
	if len(cfg.RestrictedMarkers) == 0 {
		cfg.RestrictedMarkers = append([]string(nil), DefaultRestrictedMarkers...)
	}

	cfg.ForumTimeout = time.Duration(cfg.ForumTimeoutSeconds) * time.Second
	cfg.WebhookTimeout = time.Duration(cfg.WebhookTimeoutSeconds) * time.Second
	cfg.SectionPause = time.Duration(cfg.SectionPauseMs) * time.Millisecond
	cfg.DispatchPause = time.Duration(cfg.DispatchPauseMs) * time.Millisecond
	cfg.ImagePause = time.Duration(cfg.ImagePauseMs) * time.Millisecond
	cfg.PassPauseMin = time.Duration(cfg.PassPauseMinSeconds) * time.Second
	cfg.PassPauseMax = time.Duration(cfg.PassPauseMaxSeconds) * time.Second
	cfg.ErrorCooldown = time.Duration(cfg.ErrorCooldownSeconds) * time.Second
	cfg.AlertCooldown = time.Duration(cfg.AlertCooldownSeconds) * time.Second
	return nil
}

// FeishuEnabled reports whether open-platform credentials are configured.
func (cfg *Config) FeishuEnabled() bool {
	return cfg != nil && cfg.FeishuAppID != "" && cfg.FeishuAppSecret != ""
}

// Redacted returns a copy safe for logging.
func (cfg *Config) Redacted() Config {
	out := *cfg
	if out.ForumCookie != "" {
		out.ForumCookie = fmt.Sprintf("<%d chars>", len(out.ForumCookie))
	}
	if out.FeishuAppSecret != "" {
		out.FeishuAppSecret = "<redacted>"
	}
	return out
}

// trimList drops blank entries; env values arrive split on commas with surrounding spaces.
func trimList(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

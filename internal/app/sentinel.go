package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Adda-Baaj/discuz-sentinel/internal/acquire"
	"github.com/Adda-Baaj/discuz-sentinel/internal/config"
	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"github.com/Adda-Baaj/discuz-sentinel/internal/logger"
	"github.com/Adda-Baaj/discuz-sentinel/internal/metrics"
	"github.com/Adda-Baaj/discuz-sentinel/internal/monitor"
	"github.com/Adda-Baaj/discuz-sentinel/internal/normalize"
	"github.com/Adda-Baaj/discuz-sentinel/internal/rehost"
	"github.com/Adda-Baaj/discuz-sentinel/internal/storage"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/feishu"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/forum"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/httpclient"
	"github.com/Adda-Baaj/discuz-sentinel/pkg/publishers"
)

// Sentinel is the long-running monitor process. It owns the polling loop, the
// watermark store and the delivery channels, and releases them on exit.
type Sentinel struct {
	cfg        *config.Config
	sections   []domain.Section
	monitor    *monitor.Monitor
	dispatcher *publishers.Dispatcher
	store      storage.Store
	log        logger.Logger

	pass  func(ctx context.Context) error
	sleep func(ctx context.Context, d time.Duration) error
	pause func() time.Duration
}

// NewSentinel builds the runtime from config files.
func NewSentinel(ctx context.Context, cfg *config.Config, log logger.Logger) (*Sentinel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	sections, err := forum.LoadSections(cfg.SectionsFile)
	if err != nil {
		return nil, fmt.Errorf("load sections: %w", err)
	}
	sectionIDs := make([]int, 0, len(sections))
	for _, s := range sections {
		sectionIDs = append(sectionIDs, s.ID)
		if len(s.Channels) == 0 {
			log.WarnObj("section has no channels; new posts will only advance the watermark", "section_id", s.ID)
		}
	}
	log.InfoObj("sections loaded", "sections_meta", map[string]any{
		"count": len(sections),
		"ids":   sectionIDs,
		"mode":  cfg.DiscoveryMode,
	})

	channelReg, err := publishers.LoadRegistry(cfg.ChannelsFile)
	if err != nil {
		return nil, fmt.Errorf("load channels registry: %w", err)
	}

	forumHTTP := httpclient.NewRestyClientWithOptions(httpclient.Options{
		Timeout:   cfg.ForumTimeout,
		UserAgent: cfg.ForumUserAgent,
		Headers:   forumHeaders(cfg),
	})
	webhookHTTP := httpclient.NewRestyClient(cfg.WebhookTimeout)
	forumClient := forum.NewClient(cfg.ForumBaseURL, forumHTTP)
	norm, err := normalize.New(cfg.ForumBaseURL)
	if err != nil {
		return nil, fmt.Errorf("init normalizer: %w", err)
	}

	feishuClient := feishu.NewClient(webhookHTTP, cfg.FeishuAPIBase, cfg.FeishuAppID, cfg.FeishuAppSecret)
	// Upload attempts carry their own deadlines.
	images := rehost.New(forumHTTP, httpclient.NewRestyClient(0), feishuClient, rehost.Options{
		ForumBaseURL: cfg.ForumBaseURL,
		UploadURL:    cfg.ImageUploadURL,
		ImagePause:   cfg.ImagePause,
	}, log)

	enabled := channelReg.Enabled()
	pubs, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, publishers.Deps{
		HTTP:         webhookHTTP,
		Rehoster:     images,
		Feishu:       feishuClient,
		PreviewLimit: cfg.PreviewLimit,
		Log:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("build channels: %w", err)
	}
	dispatcher := publishers.NewDispatcher(pubs, log)
	channelSummaries := make([]map[string]string, 0, len(enabled))
	for _, c := range enabled {
		channelSummaries = append(channelSummaries, map[string]string{"id": c.ID, "type": c.Type})
	}
	log.InfoObj("channels registry loaded", "channels_meta", map[string]any{
		"count":    len(channelSummaries),
		"channels": channelSummaries,
		"alert":    channelReg.AlertIDs(),
	})

	alerter := publishers.NewAlerter(dispatcher.Publishers(channelReg.AlertIDs()), cfg.AlertCooldown, log)
	cascade := acquire.NewCascade(log, cfg.RestrictedMarkers,
		acquire.NewInline(forumClient, norm),
		acquire.NewThreadAPI(forumClient, norm, acquire.DefaultThreadPolicy(), alerter, log),
		acquire.NewWebPage(forumClient, norm),
	)

	storePath := statePath(cfg)
	store, err := storage.NewStore(cfg.StorageType, storePath)
	if err != nil {
		_ = dispatcher.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type": cfg.StorageType,
		"path": storePath,
	})

	mon := monitor.New(forumClient, cascade, dispatcher, store, alerter, monitor.Options{
		Mode:            cfg.DiscoveryMode,
		SilentBootstrap: cfg.SilentBootstrap,
		SectionPause:    cfg.SectionPause,
		DispatchPause:   cfg.DispatchPause,
	}, log)

	s := &Sentinel{
		cfg:        cfg,
		sections:   sections,
		monitor:    mon,
		dispatcher: dispatcher,
		store:      store,
		log:        log,
		sleep:      monitor.Sleep,
	}
	s.pass = func(ctx context.Context) error { return s.monitor.RunPass(ctx, s.sections) }
	s.pause = func() time.Duration { return jitter(cfg.PassPauseMin, cfg.PassPauseMax) }
	return s, nil
}

// Run polls until ctx is cancelled. A failed or panicking pass is followed by the
// error cooldown instead of the normal pause.
func (s *Sentinel) Run(ctx context.Context) error {
	if s == nil || s.pass == nil {
		return fmt.Errorf("sentinel is not initialized")
	}
	defer s.close()

	if s.cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, s.cfg.MetricsAddr, s.log); err != nil {
				s.log.ErrorObj("metrics server failed", "error", err)
			}
		}()
	}

	s.log.InfoObj("sentinel loop starting", "sentinel_state", map[string]any{
		"sections_count":   len(s.sections),
		"pass_pause_min":   s.cfg.PassPauseMin.String(),
		"pass_pause_max":   s.cfg.PassPauseMax.String(),
		"silent_bootstrap": s.cfg.SilentBootstrap,
	})

	for {
		wait := s.pause()
		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.ErrorObj("monitor pass failed", "error", err)
			wait = s.cfg.ErrorCooldown
		}
		if err := s.sleep(ctx, wait); err != nil {
			break
		}
	}
	s.log.InfoObj("sentinel loop exiting", "reason", ctx.Err())
	return nil
}

// runOnce performs a single pass over all sections, converting a panic into an error.
func (s *Sentinel) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObservePoll("all", "panic")
			err = fmt.Errorf("pass panicked: %v", r)
		}
	}()

	start := time.Now()
	s.log.InfoObj("pass started", "pass_meta", map[string]any{
		"sections_count": len(s.sections),
		"started_at":     start.UTC(),
	})
	if err := s.pass(ctx); err != nil {
		return err
	}
	s.log.InfoObj("pass completed", "pass_meta", map[string]any{
		"sections_count": len(s.sections),
		"elapsed_ms":     time.Since(start).Milliseconds(),
	})
	return nil
}

// close releases the store and channel clients, logging any errors encountered.
func (s *Sentinel) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.ErrorObj("storage close failed", "error", err)
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(); err != nil {
			s.log.ErrorObj("channel close failed", "error", err)
		}
	}
}

func forumHeaders(cfg *config.Config) map[string]string {
	headers := map[string]string{
		"Referer": cfg.ForumBaseURL + "/",
	}
	if cfg.ForumCookie != "" {
		headers["Cookie"] = cfg.ForumCookie
	}
	return headers
}

func statePath(cfg *config.Config) string {
	if cfg.StorageType == storage.TypeBBolt {
		return cfg.BBoltPath
	}
	return cfg.StatePath
}

// jitter returns a uniformly random duration in [lo, hi].
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	arbcfg "arbiter/internal/config"
	cfgloader "arbiter/internal/config/loader"
	"arbiter/internal/emitter"
	"arbiter/internal/gate"
	"arbiter/internal/gateway/notifier"
	"arbiter/internal/logger"
	"arbiter/internal/store/framelog"
	"arbiter/internal/store/gormstore"
	httpapi "arbiter/internal/transport/http"
	"arbiter/internal/upstream"
)

type AppBuilder struct {
	cfg *arbcfg.Config

	tuningFn   func(string, cfgloader.Tuning) (*cfgloader.TuningLoader, error)
	frameLogFn func(string) (*framelog.Store, error)
	ledgerFn   func(string) (*gormstore.LedgerStore, error)
	httpFn     func(httpapi.ServerConfig) (*httpapi.Server, error)

	notifierOverride notifier.TextNotifier
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *arbcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		tuningFn:   cfgloader.NewTuningLoader,
		frameLogFn: framelog.New,
		ledgerFn:   gormstore.NewLedgerStore,
		httpFn:     httpapi.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)

	tuning, err := b.tuningFn(cfg.Tuning.Path, cfgloader.BaseFrom(*cfg))
	if err != nil {
		return nil, fmt.Errorf("初始化调优加载器失败: %w", err)
	}
	snap := tuning.Snapshot()
	logger.Infof("✓ 调优快照 v%d 已就绪（cadence=%dms resolution=%d）",
		snap.Version, snap.Tuning.CadenceMS, snap.Tuning.Resolution)

	caches := upstream.NewCacheSet()

	var emitterOpts []emitter.Option

	var frameLog *framelog.Store
	var startSeq uint64
	if path := strings.TrimSpace(cfg.Store.FrameLogPath); path != "" {
		frameLog, err = b.frameLogFn(path)
		if err != nil {
			return nil, fmt.Errorf("初始化帧日志失败: %w", err)
		}
		lastSeq, err := frameLog.LastSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("读取帧日志末序号失败: %w", err)
		}
		if lastSeq > 0 {
			logger.Infof("✓ 帧日志续写：上次序号 %d", lastSeq)
		}
		startSeq = lastSeq
		emitterOpts = append(emitterOpts,
			emitter.WithFrameSink(frameLog),
			emitter.WithStartSeq(lastSeq))
	}

	var ledger *gormstore.LedgerStore
	if path := strings.TrimSpace(cfg.Store.LedgerPath); path != "" {
		ledger, err = b.ledgerFn(path)
		if err != nil {
			return nil, fmt.Errorf("初始化台账存储失败: %w", err)
		}
		emitterOpts = append(emitterOpts, emitter.WithOverrideSink(ledger))
	}

	textNotifier := b.notifierOverride
	if textNotifier == nil {
		if tg := newTelegram(cfg.Notify); tg != nil {
			textNotifier = tg
		}
	}
	if textNotifier != nil {
		emitterOpts = append(emitterOpts, emitter.WithNotifier(textNotifier))
	}

	em := emitter.New(*cfg, caches.Producers(), tuning, emitterOpts...)

	staleAfter := time.Duration(cfg.Emitter.StaleAfterMS) * time.Millisecond
	var gateOpts []gate.Option
	if ledger != nil {
		gateOpts = append(gateOpts, gate.WithLedger(ledger))
	}
	g := gate.New(cfg.Gate, staleAfter, gateOpts...)

	httpSrv, err := b.httpFn(httpapi.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Emitter: em,
		Gate:    g,
		Tuning:  tuning,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:      cfg,
		caches:   caches,
		emitter:  em,
		gate:     g,
		httpSrv:  httpSrv,
		frameLog: frameLog,
		ledger:   ledger,
		Summary: &StartupSummary{
			Emitter: EmitterSummary{
				CadenceMS:    snap.Tuning.CadenceMS,
				StaleAfterMS: cfg.Emitter.StaleAfterMS,
				HistorySize:  cfg.Emitter.HistorySize,
				StartSeq:     startSeq,
			},
			Sources:       sourceNames(caches),
			HTTPAddr:      cfg.App.HTTPAddr,
			FrameLogPath:  cfg.Store.FrameLogPath,
			LedgerPath:    cfg.Store.LedgerPath,
			TuningPath:    cfg.Tuning.Path,
			TuningVersion: snap.Version,
			Notify:        textNotifier != nil,
		},
	}, nil
}

func sourceNames(caches *upstream.CacheSet) []string {
	producers := caches.Producers()
	out := make([]string, 0, len(producers))
	for _, p := range producers {
		out = append(out, string(p.ID()))
	}
	return out
}

// newTelegram 仅在启用且配置完整时返回通知器，否则静默禁用。
func newTelegram(cfg arbcfg.NotifyConfig) *notifier.Telegram {
	tg := cfg.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		logger.Warnf("Telegram 通知已启用但 token/chat_id 不完整，通知被禁用")
		return nil
	}
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

func WithTuningLoader(fn func(string, cfgloader.Tuning) (*cfgloader.TuningLoader, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.tuningFn = fn
		}
	}
}

func WithFrameLog(fn func(string) (*framelog.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.frameLogFn = fn
		}
	}
}

func WithLedger(fn func(string) (*gormstore.LedgerStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.ledgerFn = fn
		}
	}
}

func WithHTTPServer(fn func(httpapi.ServerConfig) (*httpapi.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.httpFn = fn
		}
	}
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		if n != nil {
			b.notifierOverride = n
		}
	}
}

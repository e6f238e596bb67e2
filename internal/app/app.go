package app

import (
	"context"
	"fmt"

	arbcfg "arbiter/internal/config"
	"arbiter/internal/emitter"
	"arbiter/internal/gate"
	"arbiter/internal/logger"
	"arbiter/internal/store/framelog"
	"arbiter/internal/store/gormstore"
	httpapi "arbiter/internal/transport/http"
	"arbiter/internal/upstream"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动融合周期与 HTTP 服务。
type App struct {
	cfg      *arbcfg.Config
	caches   *upstream.CacheSet
	emitter  *emitter.Emitter
	gate     *gate.Gate
	httpSrv  *httpapi.Server
	frameLog *framelog.Store
	ledger   *gormstore.LedgerStore
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *arbcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动融合周期与观测 HTTP 服务，直到 ctx 取消或任一侧出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if a.Summary != nil {
		a.Summary.Print()
	}

	if a.emitter == nil {
		return fmt.Errorf("emitter not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer a.closeStores()
		return a.emitter.Run(ctx)
	})

	return group.Wait()
}

func (a *App) closeStores() {
	if a.frameLog != nil {
		if err := a.frameLog.Close(); err != nil {
			logger.Warnf("关闭帧日志失败: %v", err)
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logger.Warnf("关闭台账失败: %v", err)
		}
	}
}

// Emitter exposes the fusion emitter instance (for testing/replay harnesses).
func (a *App) Emitter() *emitter.Emitter {
	if a == nil {
		return nil
	}
	return a.emitter
}

// Caches 暴露快照缓存，供外部采集进程或测试注入上游读数。
func (a *App) Caches() *upstream.CacheSet {
	if a == nil {
		return nil
	}
	return a.caches
}

// Gate 暴露执行闸门实例。
func (a *App) Gate() *gate.Gate {
	if a == nil {
		return nil
	}
	return a.gate
}

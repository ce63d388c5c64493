package server

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mediavault/mediavault/internal/acquire"
	"github.com/mediavault/mediavault/internal/cache"
	"github.com/mediavault/mediavault/internal/config"
	"github.com/mediavault/mediavault/internal/delivery"
	"github.com/mediavault/mediavault/internal/expiry"
	"github.com/mediavault/mediavault/internal/library"
	"github.com/mediavault/mediavault/internal/metrics"
	"github.com/mediavault/mediavault/internal/resolver"
	"github.com/mediavault/mediavault/internal/tagging"
)

// Runtime 持有一次进程生命周期内共享的全部组件。
type Runtime struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Library   *library.Library
	Store     cache.Store
	Metrics   *metrics.Metrics
	Scheduler *expiry.Scheduler
	Backends  *BackendSet
	Pipeline  *acquire.Pipeline
	Resolver  *resolver.Resolver
	Delivery  *delivery.Handler
}

// OpenLibrary 按 IndexBackend 选择 JSON 文件或 SQLite 持久化并加载索引。
func OpenLibrary(cfg *config.Config, logger *logrus.Logger) (*library.Library, error) {
	var (
		persister library.Persister
		err       error
	)
	switch cfg.Global.IndexBackend {
	case config.IndexBackendSQLite:
		persister, err = library.NewSQLitePersister(cfg.Global.IndexPath)
	default:
		persister, err = library.NewJSONPersister(cfg.Global.IndexPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	lib, err := library.Open(persister, logger)
	if err != nil {
		persister.Close()
		return nil, err
	}
	return lib, nil
}

// NewRuntime 组装 library → store → backends → pipeline/resolver/delivery。
func NewRuntime(cfg *config.Config, logger *logrus.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	lib, err := OpenLibrary(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		lib.Close()
		return nil, fmt.Errorf("初始化存储目录失败: %w", err)
	}

	m := metrics.New()
	scheduler := expiry.New(lib, logger, m)

	backends, err := NewBackendSet(cfg, NewUpstreamClient(cfg), logger)
	if err != nil {
		lib.Close()
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Global.AcquireRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Global.AcquireRate), cfg.Global.AcquireBurst)
	}

	pipeline, err := acquire.New(acquire.Options{
		Library: lib,
		Router:  backends.Router(),
		Store:   store,
		Evictor: scheduler,
		Tagger:  tagging.New(cfg.Global.TagAudio),
		Limiter: limiter,
		TTL:     backends.TTLPolicy(),
		Timeout: cfg.Global.AcquireTimeout.DurationValue(),
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		lib.Close()
		return nil, err
	}

	res, err := resolver.New(resolver.Options{
		Library:  lib,
		Router:   backends.Router(),
		Fallback: backends.Fallback(),
		Logger:   logger,
	})
	if err != nil {
		lib.Close()
		return nil, err
	}

	return &Runtime{
		Config:    cfg,
		Logger:    logger,
		Library:   lib,
		Store:     store,
		Metrics:   m,
		Scheduler: scheduler,
		Backends:  backends,
		Pipeline:  pipeline,
		Resolver:  res,
		Delivery:  delivery.NewHandler(lib, store, scheduler, logger, m),
	}, nil
}

// Close 停止定时器并关闭索引。
func (r *Runtime) Close() error {
	r.Scheduler.Stop()
	return r.Library.Close()
}

package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mediavault/mediavault/internal/acquire"
	"github.com/mediavault/mediavault/internal/backend"
	"github.com/mediavault/mediavault/internal/backend/direct"
	"github.com/mediavault/mediavault/internal/config"
	"github.com/mediavault/mediavault/internal/media"
)

// BackendRoute 将后端配置与构建出的实例、生效 TTL 聚合在一起，
// 供获取流水线与诊断接口直接复用。
type BackendRoute struct {
	// Config 是 config.toml 中 [[Backend]] 的副本。
	Config config.BackendConfig
	// Meta 是注册表中该类型的元数据。
	Meta backend.Metadata
	// Backend 是按 Config 构建的实例。
	Backend backend.Backend
	Kinds   []media.Kind
	// TTL 是该后端产出变体的生效 TTL，未覆盖时等于全局 VariantTTL。
	TTL time.Duration
}

// BackendSet 按配置顺序保存所有后端，并据此构建按 kind 分链的 Router。
type BackendSet struct {
	router  *backend.Router
	ordered []*BackendRoute
	byName  map[string]*BackendRoute
	ttl     time.Duration
}

// NewBackendSet 根据配置构建全部后端。调用方应在启动阶段创建一次并复用。
func NewBackendSet(cfg *config.Config, client *http.Client, logger *logrus.Logger) (*BackendSet, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	set := &BackendSet{
		router: backend.NewRouter(),
		byName: make(map[string]*BackendRoute, len(cfg.Backends)),
		ttl:    cfg.Global.VariantTTL.DurationValue(),
	}

	for _, bc := range cfg.Backends {
		if _, exists := set.byName[bc.Name]; exists {
			return nil, fmt.Errorf("duplicate backend name %s", bc.Name)
		}
		route, err := buildBackendRoute(cfg, bc, client, logger)
		if err != nil {
			return nil, err
		}
		for _, kind := range route.Kinds {
			if err := set.router.Add(kind, route.Backend); err != nil {
				return nil, fmt.Errorf("backend %s: %w", bc.Name, err)
			}
		}
		set.byName[bc.Name] = route
		set.ordered = append(set.ordered, route)
	}

	return set, nil
}

// Router 返回按 kind 分链的路由器。
func (s *BackendSet) Router() *backend.Router {
	return s.router
}

// List 返回按配置顺序排列的后端，用于诊断输出。
func (s *BackendSet) List() []BackendRoute {
	if s == nil || len(s.ordered) == 0 {
		return nil
	}
	result := make([]BackendRoute, len(s.ordered))
	for i, route := range s.ordered {
		result[i] = *route
	}
	return result
}

// TTLPolicy 汇总全局与后端级 TTL。
func (s *BackendSet) TTLPolicy() acquire.TTLPolicy {
	policy := acquire.TTLPolicy{Default: s.ttl, PerBackend: make(map[string]time.Duration)}
	for _, route := range s.ordered {
		if route.Config.TTL.DurationValue() > 0 {
			policy.PerBackend[route.Config.Name] = route.TTL
		}
	}
	return policy
}

// Fallback 返回第一个 direct 类型的后端，元数据探测失败时用于判断能否退回占位记录。
func (s *BackendSet) Fallback() backend.Backend {
	for _, route := range s.ordered {
		if route.Meta.Key == direct.Type {
			return route.Backend
		}
	}
	return nil
}

func buildBackendRoute(cfg *config.Config, bc config.BackendConfig, client *http.Client, logger *logrus.Logger) (*BackendRoute, error) {
	meta, err := metadataForBackend(bc)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", bc.Name, err)
	}

	instance, err := meta.Factory(backend.Options{
		Name:       bc.Name,
		HTTPClient: client,
		YtDlpPath:  cfg.Global.YtDlpPath,
		ExtraArgs:  append([]string(nil), cfg.Global.YtDlpExtraArgs...),
		TempDir:    cfg.Global.TempDir,
		Timeout:    bc.Timeout.DurationValue(),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build backend %s: %w", bc.Name, err)
	}

	kinds := bc.KindList()
	if len(kinds) == 0 {
		kinds = append(kinds, meta.Kinds...)
	}

	return &BackendRoute{
		Config:  bc,
		Meta:    meta,
		Backend: instance,
		Kinds:   kinds,
		TTL:     cfg.EffectiveTTL(bc),
	}, nil
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mediavault/mediavault/internal/backend"
	"github.com/mediavault/mediavault/internal/media"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if strings.TrimSpace(g.TempDir) == "" {
		return newFieldError("Global.TempDir", "不能为空")
	}
	switch g.IndexBackend {
	case IndexBackendJSON, IndexBackendSQLite:
	default:
		return newFieldError("Global.IndexBackend", "仅支持 json/sqlite")
	}
	if strings.TrimSpace(g.IndexPath) == "" {
		return newFieldError("Global.IndexPath", "不能为空")
	}
	if g.VariantTTL.DurationValue() < 0 {
		return newFieldError("Global.VariantTTL", "不能为负数")
	}
	if g.AcquireTimeout.DurationValue() <= 0 {
		return newFieldError("Global.AcquireTimeout", "必须大于 0")
	}
	if g.AcquireRate < 0 {
		return newFieldError("Global.AcquireRate", "不能为负数")
	}
	if g.AcquireBurst <= 0 {
		return newFieldError("Global.AcquireBurst", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if strings.TrimSpace(g.YtDlpPath) == "" {
		return newFieldError("Global.YtDlpPath", "不能为空")
	}

	if len(c.Backends) == 0 {
		return errors.New("至少需要配置一个 Backend")
	}
	return validateBackends(c.Backends)
}

// validateBackends 检查名称唯一、类型已注册、kind 受支持，且 catch-all 后端位于各自 kind 链的末尾。
func validateBackends(backends []BackendConfig) error {
	seenNames := map[string]struct{}{}
	catchAll := map[media.Kind]string{}

	for i := range backends {
		b := &backends[i]
		if b.Name == "" {
			return newFieldError("Backend[].Name", "不能为空")
		}
		if _, exists := seenNames[b.Name]; exists {
			return newFieldError(backendField(b.Name, "Name"), "重复")
		}
		seenNames[b.Name] = struct{}{}

		if b.Type == "" {
			return newFieldError(backendField(b.Name, "Type"), "不能为空")
		}
		meta, ok := backend.Resolve(b.Type)
		if !ok {
			return newFieldError(backendField(b.Name, "Type"), "仅支持 "+strings.Join(backend.Keys(), "|"))
		}
		if b.TTL.DurationValue() < 0 {
			return newFieldError(backendField(b.Name, "TTL"), "不能为负数")
		}
		if b.Timeout.DurationValue() < 0 {
			return newFieldError(backendField(b.Name, "Timeout"), "不能为负数")
		}
		if len(b.Kinds) == 0 {
			return newFieldError(backendField(b.Name, "Kinds"), "不能为空")
		}

		for j, raw := range b.Kinds {
			kind, err := media.ParseKind(raw)
			if err != nil {
				return newFieldError(backendField(b.Name, "Kinds"), err.Error())
			}
			if !meta.Supports(kind) {
				return newFieldError(backendField(b.Name, "Kinds"), fmt.Sprintf("类型 %s 不支持 %s", meta.Key, kind))
			}
			b.Kinds[j] = string(kind)

			if prev, exists := catchAll[kind]; exists {
				return newFieldError(backendField(prev, "Type"), fmt.Sprintf("接受所有 URL，必须位于 %s 链末尾", kind))
			}
			if meta.CatchAll {
				catchAll[kind] = b.Name
			}
		}
	}
	return nil
}

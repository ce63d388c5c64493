package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mediavault/mediavault/internal/media"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"7m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

const (
	IndexBackendJSON   = "json"
	IndexBackendSQLite = "sqlite"
)

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	TempDir         string   `mapstructure:"TempDir"`
	IndexBackend    string   `mapstructure:"IndexBackend"`
	IndexPath       string   `mapstructure:"IndexPath"`
	VariantTTL      Duration `mapstructure:"VariantTTL"`
	AcquireTimeout  Duration `mapstructure:"AcquireTimeout"`
	AcquireRate     float64  `mapstructure:"AcquireRate"`
	AcquireBurst    int      `mapstructure:"AcquireBurst"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	YtDlpPath       string   `mapstructure:"YtDlpPath"`
	YtDlpExtraArgs  []string `mapstructure:"YtDlpExtraArgs"`
	TagAudio        bool     `mapstructure:"TagAudio"`
	SweepOnStart    bool     `mapstructure:"SweepOnStart"`
}

// BackendConfig 描述获取链上的一个后端实例；Kinds 为空表示沿用类型声明的全部 kind。
type BackendConfig struct {
	Name    string   `mapstructure:"Name"`
	Type    string   `mapstructure:"Type"`
	Kinds   []string `mapstructure:"Kinds"`
	TTL     Duration `mapstructure:"TTL"`
	Timeout Duration `mapstructure:"Timeout"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig    `mapstructure:",squash"`
	Backends []BackendConfig `mapstructure:"Backend"`
}

// EffectiveTTL 返回某个后端产出的变体的 TTL，未覆盖时回退至全局值；0 表示永不过期。
func (c *Config) EffectiveTTL(b BackendConfig) time.Duration {
	if b.TTL.DurationValue() > 0 {
		return b.TTL.DurationValue()
	}
	return c.Global.VariantTTL.DurationValue()
}

// KindList 返回后端实际参与的 kind 列表（假定 Validate 已经通过）。
func (b BackendConfig) KindList() []media.Kind {
	result := make([]media.Kind, 0, len(b.Kinds))
	for _, raw := range b.Kinds {
		if kind, err := media.ParseKind(raw); err == nil {
			result = append(result, kind)
		}
	}
	return result
}

// BackendNames 返回所有后端名称，供启动日志使用。
func BackendNames(backends []BackendConfig) []string {
	if len(backends) == 0 {
		return nil
	}
	result := make([]string, len(backends))
	for i, b := range backends {
		result[i] = fmt.Sprintf("%s:%s", b.Name, b.Type)
	}
	return result
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/mediavault/mediavault/internal/backend"
	"github.com/mediavault/mediavault/internal/backend/direct"
	"github.com/mediavault/mediavault/internal/backend/ytdlp"
)

// EnvPrefix 是环境变量覆盖顶层配置时使用的前缀，例如 MEDIAVAULT_LISTENPORT。
const EnvPrefix = "MEDIAVAULT"

const (
	defaultIndexPath       = "./data/media-library.json"
	defaultSQLiteIndexPath = "./data/media-library.db"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	if len(cfg.Backends) == 0 {
		cfg.Backends = DefaultBackends()
	}
	for i := range cfg.Backends {
		applyBackendDefaults(&cfg.Backends[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, p := range []*string{&cfg.Global.StoragePath, &cfg.Global.TempDir, &cfg.Global.IndexPath} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("无法解析目录 %s: %w", *p, err)
		}
		*p = abs
	}

	return &cfg, nil
}

// DefaultBackends 是未配置 [[Backend]] 时的获取链：youtube → direct → generic。
func DefaultBackends() []BackendConfig {
	return []BackendConfig{
		{Name: ytdlp.TypeYouTube, Type: ytdlp.TypeYouTube},
		{Name: direct.Type, Type: direct.Type},
		{Name: ytdlp.TypeGeneric, Type: ytdlp.TypeGeneric},
	}
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取 .env 失败: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("读取 .env 失败: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./media")
	v.SetDefault("TempDir", "./tmp")
	v.SetDefault("IndexBackend", IndexBackendJSON)
	v.SetDefault("IndexPath", defaultIndexPath)
	v.SetDefault("VariantTTL", "7m")
	v.SetDefault("AcquireTimeout", "8m")
	v.SetDefault("AcquireRate", 0)
	v.SetDefault("AcquireBurst", 1)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("YtDlpPath", "yt-dlp")
	v.SetDefault("YtDlpExtraArgs", []string{})
	v.SetDefault("TagAudio", true)
	v.SetDefault("SweepOnStart", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 3000
	}
	g.IndexBackend = strings.ToLower(strings.TrimSpace(g.IndexBackend))
	if g.IndexBackend == "" {
		g.IndexBackend = IndexBackendJSON
	}
	if g.IndexBackend == IndexBackendSQLite && g.IndexPath == defaultIndexPath {
		g.IndexPath = defaultSQLiteIndexPath
	}
	if g.AcquireTimeout.DurationValue() == 0 {
		g.AcquireTimeout = Duration(8 * time.Minute)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.AcquireBurst <= 0 {
		g.AcquireBurst = 1
	}
	if strings.TrimSpace(g.YtDlpPath) == "" {
		g.YtDlpPath = "yt-dlp"
	}
}

func applyBackendDefaults(b *BackendConfig) {
	b.Type = strings.ToLower(strings.TrimSpace(b.Type))
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		b.Name = b.Type
	}
	if b.TTL.DurationValue() < 0 {
		b.TTL = Duration(0)
	}
	if len(b.Kinds) == 0 {
		if meta, ok := backend.Resolve(b.Type); ok {
			for _, kind := range meta.Kinds {
				b.Kinds = append(b.Kinds, string(kind))
			}
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

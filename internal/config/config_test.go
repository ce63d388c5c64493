package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediavault/mediavault/internal/media"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 3100 {
		t.Fatalf("ListenPort 应当被解析, got %d", cfg.Global.ListenPort)
	}
	if cfg.Global.AcquireTimeout.DurationValue() != 5*time.Minute {
		t.Fatalf("整数秒应解析为 Duration, got %v", cfg.Global.AcquireTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) || !filepath.IsAbs(cfg.Global.IndexPath) {
		t.Fatalf("路径应被转换为绝对路径")
	}
	if !cfg.Global.TagAudio || !cfg.Global.SweepOnStart {
		t.Fatalf("布尔默认值应为 true")
	}
	if len(cfg.Global.YtDlpExtraArgs) != 2 {
		t.Fatalf("YtDlpExtraArgs 解析失败: %v", cfg.Global.YtDlpExtraArgs)
	}
	if len(cfg.Backends) != 3 {
		t.Fatalf("backend 数量不符: %d", len(cfg.Backends))
	}
	if kinds := cfg.Backends[0].KindList(); len(kinds) != 2 {
		t.Fatalf("未声明 Kinds 时应沿用类型的全部 kind: %v", kinds)
	}
	if kinds := cfg.Backends[1].KindList(); len(kinds) != 1 || kinds[0] != media.KindAudio {
		t.Fatalf("links 仅参与 audio 链: %v", kinds)
	}
}

func TestEffectiveTTLOverrides(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if ttl := cfg.EffectiveTTL(cfg.Backends[0]); ttl != 10*time.Minute {
		t.Fatalf("未覆盖时应退回全局 TTL, got %v", ttl)
	}
	if ttl := cfg.EffectiveTTL(cfg.Backends[1]); ttl != time.Hour {
		t.Fatalf("覆盖 TTL 应该优先生效, got %v", ttl)
	}
}

func TestLoadRejectsCatchAllBeforeOthers(t *testing.T) {
	_, err := Load(testConfigPath(t, "missing.toml"))
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("generic 排在 youtube 之前应返回 FieldError, got %v", err)
	}
	if fieldErr.Field != "Backend[fallback].Type" {
		t.Fatalf("错误字段不符: %s", fieldErr.Field)
	}
}

func TestLoadUsesDefaultChain(t *testing.T) {
	path := writeTempConfig(t, `StoragePath = "./media"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	names := BackendNames(cfg.Backends)
	want := []string{"youtube:youtube", "direct:direct", "generic:generic"}
	if len(names) != len(want) {
		t.Fatalf("默认链不符: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("默认链不符: %v", names)
		}
	}
	if cfg.Global.ListenPort != 3000 || cfg.Global.VariantTTL.DurationValue() != 7*time.Minute {
		t.Fatalf("默认值不符: %+v", cfg.Global)
	}
}

func TestVariantTTLZeroDisablesExpiry(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `VariantTTL = 0`))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if ttl := cfg.EffectiveTTL(cfg.Backends[0]); ttl != 0 {
		t.Fatalf("VariantTTL=0 应表示永不过期, got %v", ttl)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	if _, err := Load(writeTempConfig(t, `VariantTTL = "boom"`)); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadSQLiteSwitchesDefaultIndexPath(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `IndexBackend = "SQLite"`))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.IndexBackend != IndexBackendSQLite || filepath.Ext(cfg.Global.IndexPath) != ".db" {
		t.Fatalf("sqlite 默认索引路径不符: %s %s", cfg.Global.IndexBackend, cfg.Global.IndexPath)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("MEDIAVAULT_LISTENPORT", "4100")
	cfg, err := Load(writeTempConfig(t, `ListenPort = 3200`))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 4100 {
		t.Fatalf("环境变量应覆盖配置文件, got %d", cfg.Global.ListenPort)
	}
}

func TestDotEnvNextToConfigIsLoaded(t *testing.T) {
	path := writeTempConfig(t, `ListenPort = 3200`)
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envFile, []byte("MEDIAVAULT_YTDLPPATH=/opt/bin/yt-dlp\n"), 0o600); err != nil {
		t.Fatalf("写入 .env 失败: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("MEDIAVAULT_YTDLPPATH") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.YtDlpPath != "/opt/bin/yt-dlp" {
		t.Fatalf(".env 中的值应生效, got %s", cfg.Global.YtDlpPath)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestBackendValidation(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown type", func(c *Config) { c.Backends[0].Type = "soundcloud" }, true},
		{"unknown kind", func(c *Config) { c.Backends[0].Kinds = []string{"image"} }, true},
		{"duplicate name", func(c *Config) { c.Backends[1].Name = c.Backends[0].Name }, true},
		{"generic first", func(c *Config) { c.Backends[0], c.Backends[2] = c.Backends[2], c.Backends[0] }, true},
		{"generic audio only before video youtube", func(c *Config) {
			c.Backends = []BackendConfig{
				{Name: "g", Type: "generic", Kinds: []string{"audio"}},
				{Name: "yt", Type: "youtube", Kinds: []string{"video"}},
			}
		}, false},
		{"bad index backend", func(c *Config) { c.Global.IndexBackend = "redis" }, true},
		{"negative ttl", func(c *Config) { c.Global.VariantTTL = Duration(-time.Second) }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      3000,
			StoragePath:     "./media",
			TempDir:         "./tmp",
			IndexBackend:    IndexBackendJSON,
			IndexPath:       "./data/media-library.json",
			VariantTTL:      Duration(7 * time.Minute),
			AcquireTimeout:  Duration(time.Minute),
			AcquireBurst:    1,
			UpstreamTimeout: Duration(time.Second),
			YtDlpPath:       "yt-dlp",
		},
		Backends: []BackendConfig{
			{Name: "youtube", Type: "youtube", Kinds: []string{"audio", "video"}},
			{Name: "direct", Type: "direct", Kinds: []string{"audio", "video"}},
			{Name: "generic", Type: "generic", Kinds: []string{"audio", "video"}},
		},
	}
}

package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.MaxAge.DurationValue() != 120*time.Hour {
		t.Fatalf("MaxAge 应解析为 120h，得到 %s", cfg.Global.MaxAge.DurationValue())
	}
	if cfg.Global.SweepInterval.DurationValue() != 30*time.Minute {
		t.Fatalf("SweepInterval 应解析为 30m")
	}
	if cfg.Global.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts 应该自动填充默认值，得到 %d", cfg.Global.MaxAttempts)
	}
	if cfg.Global.RetryDelay.DurationValue() != 500*time.Millisecond {
		t.Fatalf("RetryDelay 应该自动填充默认值")
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if len(cfg.Groups) != 2 {
		t.Fatalf("应解析出 2 个分组，得到 %d", len(cfg.Groups))
	}
	if cfg.EffectiveMaxAge(cfg.Groups[0]) != cfg.Global.MaxAge.DurationValue() {
		t.Fatalf("分组未设置 MaxAge 时应退回全局值")
	}
	if cfg.EffectiveMaxAge(cfg.Groups[1]) != 24*time.Hour {
		t.Fatalf("整数秒 MaxAge 应解析为 24h")
	}
	if cfg.Groups[1].Width != 128 || cfg.Groups[1].Height != 128 {
		t.Fatalf("分组尺寸应被解析")
	}
}

func TestLoadAddsDefaultGroup(t *testing.T) {
	path := writeTempConfig(t, `
LogLevel = "debug"
StoragePath = "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if len(cfg.Groups) != 1 || cfg.Groups[0].Name != DefaultGroupName {
		t.Fatalf("未声明分组时应自动创建 %s，得到 %+v", DefaultGroupName, cfg.Groups)
	}
	if cfg.Global.SweepInterval.DurationValue() != time.Hour {
		t.Fatalf("SweepInterval 默认应为 1h")
	}
}

func TestValidateRejectsBadGroup(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	_, err := Load(cfgPath)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("缺少分组名应返回 FieldError，得到 %v", err)
	}
	if fieldErr.Field != "Group[].Name" {
		t.Fatalf("字段路径不正确: %s", fieldErr.Field)
	}
}

func TestEffectiveMaxAgeOverrides(t *testing.T) {
	cfg := &Config{Global: GlobalConfig{MaxAge: Duration(time.Hour)}}
	group := GroupConfig{MaxAge: Duration(2 * time.Hour)}
	if ttl := cfg.EffectiveMaxAge(group); ttl != 2*time.Hour {
		t.Fatalf("覆盖 MaxAge 应该优先生效")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestGroupNameValidation(t *testing.T) {
	testCases := []struct {
		name      string
		group     string
		shouldErr bool
	}{
		{"plain ok", "Images", false},
		{"dashes ok", "user-avatars", false},
		{"empty", "", true},
		{"parent dir", "..", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Groups[0].Name = tc.group
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for group %q", tc.group)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for group %q: %v", tc.group, err)
			}
		})
	}
}

func TestValidateRejectsDuplicateGroups(t *testing.T) {
	cfg := validConfig()
	cfg.Groups = append(cfg.Groups, GroupConfig{Name: "images"})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("大小写不同的重复分组也应报错")
	}
}

func TestValidateRejectsNegativeSizes(t *testing.T) {
	cfg := validConfig()
	cfg.Groups[0].Width = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负数尺寸应当报错")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90")); err != nil || d.DurationValue() != 90*time.Second {
		t.Fatalf("纯数字应按秒解析: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("1h30m")); err != nil || d.DurationValue() != 90*time.Minute {
		t.Fatalf("Go Duration 字符串应被解析: %v", err)
	}
	if err := d.UnmarshalText([]byte("1.5")); err != nil || d.DurationValue() != 1500*time.Millisecond {
		t.Fatalf("小数秒应被解析: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("非法值应返回错误")
	}
}

func TestGroupNames(t *testing.T) {
	names := GroupNames(validConfig().Groups)
	if len(names) != 1 || names[0] != "Images" {
		t.Fatalf("unexpected names %v", names)
	}
	if GroupNames(nil) != nil {
		t.Fatalf("空分组应返回 nil")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			LogLevel:        "info",
			StoragePath:     "./storage",
			MaxAge:          Duration(120 * time.Hour),
			SweepInterval:   Duration(time.Hour),
			MaxAttempts:     3,
			RetryDelay:      Duration(500 * time.Millisecond),
			UpstreamTimeout: Duration(30 * time.Second),
			MaxDownloadSize: 1 << 20,
		},
		Groups: []GroupConfig{
			{Name: "Images"},
		},
	}
}

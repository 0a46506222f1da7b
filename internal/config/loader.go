package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/imgcache/internal/cache"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	if len(cfg.Groups) == 0 {
		cfg.Groups = []GroupConfig{{Name: DefaultGroupName}}
	}
	for i := range cfg.Groups {
		applyGroupDefaults(&cfg.Groups[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", cache.DefaultBasePath())
	v.SetDefault("MaxAge", "120h")
	v.SetDefault("SweepInterval", "1h")
	v.SetDefault("MaxAttempts", 3)
	v.SetDefault("RetryDelay", "500ms")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxDownloadSize", 32*1024*1024)
	v.SetDefault("AllowLocalFiles", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.StoragePath == "" {
		g.StoragePath = cache.DefaultBasePath()
	}
	if g.MaxAge.DurationValue() == 0 {
		g.MaxAge = Duration(5 * 24 * time.Hour)
	}
	if g.MaxAttempts == 0 {
		g.MaxAttempts = 3
	}
	if g.RetryDelay.DurationValue() == 0 {
		g.RetryDelay = Duration(500 * time.Millisecond)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxDownloadSize == 0 {
		g.MaxDownloadSize = 32 * 1024 * 1024
	}
}

func applyGroupDefaults(g *GroupConfig) {
	g.Name = strings.TrimSpace(g.Name)
	if g.MaxAge.DurationValue() < 0 {
		g.MaxAge = Duration(0)
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
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, fmt.Errorf("无法解析 Duration 字段: %w", err)
			}
			return d, nil
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

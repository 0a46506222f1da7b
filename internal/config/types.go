package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"120h" 或纯数字秒值（可带小数）等配置写法。
// 字符串形式的配置值都经由 durationDecodeHook 进入这里。
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

	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// DefaultGroupName 是未声明任何 [[Group]] 时自动创建的分组。
const DefaultGroupName = "Images"

// GlobalConfig 描述全局运行时行为，所有分组共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	MaxAge          Duration `mapstructure:"MaxAge"`
	SweepInterval   Duration `mapstructure:"SweepInterval"`
	MaxAttempts     int      `mapstructure:"MaxAttempts"`
	RetryDelay      Duration `mapstructure:"RetryDelay"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	MaxDownloadSize int64    `mapstructure:"MaxDownloadSize"`
	AllowLocalFiles bool     `mapstructure:"AllowLocalFiles"`
}

// GroupConfig 对应一个缓存分组（一个目录），可覆盖过期时间与默认缩放尺寸。
type GroupConfig struct {
	Name   string   `mapstructure:"Name"`
	MaxAge Duration `mapstructure:"MaxAge"`
	Width  int      `mapstructure:"Width"`
	Height int      `mapstructure:"Height"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Groups []GroupConfig `mapstructure:"Group"`
}

// GroupNames 返回按配置顺序排列的分组名，供日志字段使用。
func GroupNames(groups []GroupConfig) []string {
	if len(groups) == 0 {
		return nil
	}
	result := make([]string, len(groups))
	for i, group := range groups {
		result[i] = group.Name
	}
	return result
}

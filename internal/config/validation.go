package config

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
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
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxAge.DurationValue() <= 0 {
		return newFieldError("Global.MaxAge", "必须大于 0")
	}
	if g.SweepInterval.DurationValue() < 0 {
		return newFieldError("Global.SweepInterval", "不能为负数")
	}
	if g.MaxAttempts <= 0 {
		return newFieldError("Global.MaxAttempts", "必须大于 0")
	}
	if g.RetryDelay.DurationValue() < 0 {
		return newFieldError("Global.RetryDelay", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxDownloadSize <= 0 {
		return newFieldError("Global.MaxDownloadSize", "必须大于 0")
	}

	if len(c.Groups) == 0 {
		return errors.New("至少需要配置一个 Group")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Groups {
		group := &c.Groups[i]
		if err := validateGroupName(group.Name); err != nil {
			return err
		}
		key := strings.ToLower(group.Name)
		if _, exists := seenNames[key]; exists {
			return newFieldError(groupField(group.Name, "Name"), "重复")
		}
		seenNames[key] = struct{}{}

		if group.MaxAge.DurationValue() < 0 {
			return newFieldError(groupField(group.Name, "MaxAge"), "不能为负数")
		}
		if group.Width < 0 || group.Height < 0 {
			return newFieldError(groupField(group.Name, "Width/Height"), "不能为负数")
		}
	}

	return nil
}

func validateGroupName(name string) error {
	if name == "" {
		return newFieldError("Group[].Name", "不能为空")
	}
	if name == "." || name == ".." {
		return newFieldError(groupField(name, "Name"), "不能是相对目录")
	}
	if strings.ContainsAny(name, `/\ `) {
		return newFieldError(groupField(name, "Name"), "不允许包含路径分隔符或空格")
	}
	return nil
}

// EffectiveMaxAge 返回特定分组生效的过期时间，未覆盖时回退至全局值。
func (c *Config) EffectiveMaxAge(g GroupConfig) time.Duration {
	if g.MaxAge.DurationValue() > 0 {
		return g.MaxAge.DurationValue()
	}
	return c.Global.MaxAge.DurationValue()
}

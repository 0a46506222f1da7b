package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/config"
	"github.com/any-hub/imgcache/internal/fetcher"
)

// ImageLoader 是图片加载能力的最小接口，测试中可注入假实现。
type ImageLoader interface {
	Load(ctx context.Context, req fetcher.Request) (*fetcher.Result, error)
}

// GroupRoute 将分组配置与派生的缓存实例、加载器、清理器聚合在一起，
// 供路由/处理器直接复用，避免重复解析配置。
type GroupRoute struct {
	// Config 是用户在 config.toml 中声明的分组字段副本。
	Config config.GroupConfig
	// MaxAge 是对当前分组生效的过期时间，未覆盖时等于全局值。
	MaxAge time.Duration
	// Width/Height 是请求未指定尺寸时使用的默认缩放框。
	Width  int
	Height int
	// Dir 为分组目录绝对路径，仅用于诊断输出。
	Dir     string
	Cache   cache.Store
	Loader  ImageLoader
	Sweeper *cache.Sweeper
}

// Name 返回分组名。
func (r *GroupRoute) Name() string {
	return r.Config.Name
}

// RegistryOptions 注入构建各分组时共享的依赖。
type RegistryOptions struct {
	Logger  *logrus.Logger
	Client  *http.Client
	Resizer fetcher.Resizer
}

// GroupRegistry 提供分组名到 GroupRoute 的查询能力（大小写不敏感），第一个分组为默认分组。
type GroupRegistry struct {
	routes  map[string]*GroupRoute
	ordered []*GroupRoute
}

// NewGroupRegistry 根据配置为每个分组构建缓存与加载器。构建缓存会立即执行一次过期清理。
func NewGroupRegistry(cfg *config.Config, opts RegistryOptions) (*GroupRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	registry := &GroupRegistry{
		routes: make(map[string]*GroupRoute, len(cfg.Groups)),
	}

	for _, group := range cfg.Groups {
		key := normalizeGroup(group.Name)
		if key == "" {
			return nil, fmt.Errorf("invalid group name %q", group.Name)
		}
		if _, exists := registry.routes[key]; exists {
			return nil, fmt.Errorf("duplicate group %s", group.Name)
		}

		route, err := buildGroupRoute(cfg, group, opts, logger)
		if err != nil {
			return nil, err
		}

		registry.routes[key] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据分组名查找 GroupRoute。
func (r *GroupRegistry) Lookup(name string) (*GroupRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.routes[normalizeGroup(name)]
	return route, ok
}

// Default 返回配置中的第一个分组。
func (r *GroupRegistry) Default() (*GroupRoute, bool) {
	if r == nil || len(r.ordered) == 0 {
		return nil, false
	}
	return r.ordered[0], true
}

// List 返回当前注册的 GroupRoute 列表（按配置定义的顺序），用于 /-/groups 输出。
func (r *GroupRegistry) List() []*GroupRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]*GroupRoute, len(r.ordered))
	copy(result, r.ordered)
	return result
}

// StartSweepers 启动所有分组的后台过期清理。
func (r *GroupRegistry) StartSweepers(ctx context.Context) {
	for _, route := range r.List() {
		if route.Sweeper != nil {
			route.Sweeper.Start(ctx)
		}
	}
}

// StopSweepers 停止所有后台清理并等待退出。
func (r *GroupRegistry) StopSweepers() {
	for _, route := range r.List() {
		if route.Sweeper != nil {
			route.Sweeper.Stop()
		}
	}
}

func buildGroupRoute(cfg *config.Config, group config.GroupConfig, opts RegistryOptions, logger *logrus.Logger) (*GroupRoute, error) {
	maxAge := cfg.EffectiveMaxAge(group)

	store, err := cache.New(cache.Options{
		BasePath: cfg.Global.StoragePath,
		Group:    group.Name,
		MaxAge:   maxAge,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", group.Name, err)
	}

	retryDelay := cfg.Global.RetryDelay.DurationValue()
	// 共享加载的总预算：每次尝试的上游超时加上重试间隔，未配置超时时使用 fetcher 默认值。
	var loadTimeout time.Duration
	if upstream := cfg.Global.UpstreamTimeout.DurationValue(); upstream > 0 && cfg.Global.MaxAttempts > 0 {
		loadTimeout = time.Duration(cfg.Global.MaxAttempts) * (upstream + retryDelay)
	}
	loader := fetcher.New(store, fetcher.Options{
		Client:      opts.Client,
		Resizer:     opts.Resizer,
		Logger:      logger,
		MaxAttempts: cfg.Global.MaxAttempts,
		Backoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(retryDelay)
		},
		AllowLocal:  cfg.Global.AllowLocalFiles,
		MaxBytes:    cfg.Global.MaxDownloadSize,
		LoadTimeout: loadTimeout,
	})

	return &GroupRoute{
		Config:  group,
		MaxAge:  maxAge,
		Width:   group.Width,
		Height:  group.Height,
		Dir:     store.Dir(),
		Cache:   store,
		Loader:  loader,
		Sweeper: cache.NewSweeper(store, maxAge, cfg.Global.SweepInterval.DurationValue(), logger),
	}, nil
}

func normalizeGroup(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

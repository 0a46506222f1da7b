// Package fetcher loads images through a cache.Store: check the cache, fetch
// and resize on a miss, write the result back, then serve the cached bytes.
// Each load runs an explicit retry state machine and concurrent loads of the
// same key share a single upstream request.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/imgcache/internal/cache"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
	defaultMaxBytes    = 32 << 20
	defaultTimeout     = 30 * time.Second
	defaultLoadTimeout = 2 * time.Minute
)

// Resizer 由调用方注入，负责把原图缩放到目标尺寸。
type Resizer interface {
	Resize(data []byte, width, height int) ([]byte, error)
}

// Options 控制 Loader 的依赖与重试策略，零值字段使用默认值。
type Options struct {
	Client  *http.Client
	Resizer Resizer
	Logger  *logrus.Logger
	// MaxAttempts 是包含首次在内的总尝试次数，默认 3。
	MaxAttempts int
	// Backoff 为每次加载生成独立的重试间隔策略，默认固定 500ms。
	Backoff func() backoff.BackOff
	// AllowLocal 允许非 http 地址按本地文件读取（不经过缓存）。
	AllowLocal bool
	// MaxBytes 限制单个上游响应的大小，默认 32MiB。
	MaxBytes int64
	// LoadTimeout 是一次共享加载（含全部重试）的总时长上限，默认 2 分钟。
	// 共享加载不随任何单个调用方取消。
	LoadTimeout time.Duration
	// OnTransition 接收每次状态迁移，可用于观测或测试。
	OnTransition func(Transition)
}

// Request 描述一次图片加载。Width/Height 为 0 表示不缩放。
type Request struct {
	Source string
	Width  int
	Height int
}

// Result 为加载结果；CacheHit 表示本次未访问上游。
type Result struct {
	Key         string
	Data        []byte
	ContentType string
	CacheHit    bool
	Attempts    int
}

// Loader 是缓存的唯一写入方，重试与去重都在这里完成。
type Loader struct {
	store        cache.Store
	client       *http.Client
	resizer      Resizer
	logger       *logrus.Logger
	maxAttempts  int
	newBackoff   func() backoff.BackOff
	allowLocal   bool
	maxBytes     int64
	loadTimeout  time.Duration
	onTransition func(Transition)

	flight singleflight.Group
}

// New 基于 store 构建 Loader。
func New(store cache.Store, opts Options) *Loader {
	l := &Loader{
		store:        store,
		client:       opts.Client,
		resizer:      opts.Resizer,
		logger:       opts.Logger,
		maxAttempts:  opts.MaxAttempts,
		newBackoff:   opts.Backoff,
		allowLocal:   opts.AllowLocal,
		maxBytes:     opts.MaxBytes,
		loadTimeout:  opts.LoadTimeout,
		onTransition: opts.OnTransition,
	}
	if l.client == nil {
		l.client = &http.Client{Timeout: defaultTimeout}
	}
	if l.logger == nil {
		l.logger = logrus.StandardLogger()
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = defaultMaxAttempts
	}
	if l.newBackoff == nil {
		l.newBackoff = func() backoff.BackOff {
			return backoff.NewConstantBackOff(defaultRetryDelay)
		}
	}
	if l.maxBytes <= 0 {
		l.maxBytes = defaultMaxBytes
	}
	if l.loadTimeout <= 0 {
		l.loadTimeout = defaultLoadTimeout
	}
	return l
}

// CacheKey 返回请求对应的缓存 key；带尺寸的请求附加 #WxH 以区分不同缩放结果。
func CacheKey(source string, width, height int) string {
	if width <= 0 && height <= 0 {
		return source
	}
	return fmt.Sprintf("%s#%dx%d", source, width, height)
}

// Load 执行“查缓存 → 回源 → 缩放 → 写缓存 → 读缓存”，失败时按策略重试。
func (l *Loader) Load(ctx context.Context, req Request) (*Result, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return nil, ErrEmptySource
	}
	if !isRemote(source) {
		return l.loadLocal(source, req)
	}

	key := CacheKey(source, req.Width, req.Height)
	ch := l.flight.DoChan(key, func() (interface{}, error) {
		// 同 key 的调用方共享这次加载，某个调用方取消不能连带其他等待者失败。
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
		defer cancel()
		return l.loadWithRetry(shared, key, source, req)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load %s: %w", source, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := *res.Val.(*Result)
		return &result, nil
	}
}

func (l *Loader) loadWithRetry(ctx context.Context, key, source string, req Request) (*Result, error) {
	m := newMachine(source, l.observe)
	policy := l.newBackoff()
	policy.Reset()

	for {
		m.advance(StateLoading, nil)
		result, err := l.attempt(ctx, key, source, req)
		if err == nil {
			result.Attempts = m.attempt
			m.advance(StateLoaded, nil)
			return result, nil
		}

		m.advance(StateFailed, err)
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, fmt.Errorf("load %s after %d attempt(s): %w", source, m.attempt, permanent.Err)
		}
		if ctx.Err() != nil || m.attempt >= l.maxAttempts {
			return nil, fmt.Errorf("load %s after %d attempt(s): %w", source, m.attempt, err)
		}
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			return nil, fmt.Errorf("load %s after %d attempt(s): %w", source, m.attempt, err)
		}

		m.advance(StateRetrying, err)
		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("load %s: %w", source, err)
		}
	}
}

func (l *Loader) attempt(ctx context.Context, key, source string, req Request) (*Result, error) {
	hit := l.store.Exists(key)
	if !hit {
		data, err := l.download(ctx, source)
		if err != nil {
			return nil, err
		}
		data, err = l.resize(data, req)
		if err != nil {
			// 相同字节重新下载后仍会缩放失败
			return nil, backoff.Permanent(err)
		}
		if err := l.store.Write(key, data); err != nil {
			return nil, err
		}
	}

	data, ok, err := l.store.Read(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errEntryVanished
	}
	return &Result{
		Key:         key,
		Data:        data,
		ContentType: http.DetectContentType(data),
		CacheHit:    hit,
	}, nil
}

func (l *Loader) download(ctx context.Context, source string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{URL: source, StatusCode: resp.StatusCode}
		if statusErr.Permanent() {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, backoff.Permanent(ErrTooLarge)
	}
	return data, nil
}

func (l *Loader) resize(data []byte, req Request) ([]byte, error) {
	if l.resizer == nil || (req.Width <= 0 && req.Height <= 0) {
		return data, nil
	}
	return l.resizer.Resize(data, req.Width, req.Height)
}

func (l *Loader) loadLocal(path string, req Request) (*Result, error) {
	if !l.allowLocal {
		return nil, ErrLocalDisabled
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err = l.resize(data, req)
	if err != nil {
		return nil, err
	}
	return &Result{
		Key:         path,
		Data:        data,
		ContentType: http.DetectContentType(data),
		Attempts:    1,
	}, nil
}

func (l *Loader) observe(t Transition) {
	fields := logrus.Fields{
		"action":  "image_load",
		"source":  t.Source,
		"from":    string(t.From),
		"to":      string(t.To),
		"attempt": t.Attempt,
	}
	entry := l.logger.WithFields(fields)
	if t.Err != nil {
		entry = entry.WithError(t.Err)
	}
	if t.To == StateFailed {
		entry.Warn("image_load_failed")
	} else {
		entry.Debug("image_load_transition")
	}
	if l.onTransition != nil {
		l.onTransition(t)
	}
}

func isRemote(source string) bool {
	parsed, err := url.Parse(source)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

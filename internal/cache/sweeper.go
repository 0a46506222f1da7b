package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper 按固定间隔对单个分组执行 RemoveExpired，补足“仅构造时清理”的空档。
type Sweeper struct {
	store    Store
	maxAge   time.Duration
	interval time.Duration
	logger   *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper 构造后台清理器；interval<=0 或 maxAge<=0 时 Start 不会启动 goroutine。
func NewSweeper(store Store, maxAge, interval time.Duration, logger *logrus.Logger) *Sweeper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
	}
}

// Start 启动清理循环，重复调用无副作用。
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 || s.maxAge <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)
}

// Stop 结束清理循环并等待 goroutine 退出，可重复调用。
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// SweepOnce 立即执行一次清理并记录删除数量；maxAge<=0 表示该分组不过期。
func (s *Sweeper) SweepOnce() int {
	if s.maxAge <= 0 {
		return 0
	}
	removed := s.store.RemoveExpired(s.maxAge)
	s.logger.WithFields(logrus.Fields{
		"action":  "cache_sweep",
		"removed": removed,
		"max_age": s.maxAge.String(),
	}).Debug("cache sweep finished")
	return removed
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	dirPerm     = 0o755
	filePerm    = 0o644
	tempPattern = ".write-*"
)

// New 构建指定分组的 FileCache，并立即按 opts.MaxAge 清理过期条目。
// 分组目录在首次写入时才会创建。
func New(opts Options) (*FileCache, error) {
	group := opts.Group
	if group == "" {
		group = DefaultGroup
	}
	if err := validateGroup(group); err != nil {
		return nil, err
	}

	base := opts.BasePath
	if base == "" {
		base = DefaultBasePath()
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve cache base path: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &FileCache{
		group:  group,
		dir:    filepath.Join(abs, group),
		logger: logger,
		now:    now,
	}
	if opts.MaxAge > 0 {
		c.RemoveExpired(opts.MaxAge)
	}
	return c, nil
}

// DefaultBasePath 返回平台用户缓存目录下的 imgcache，无法解析时退回系统临时目录。
func DefaultBasePath() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "imgcache")
	}
	return filepath.Join(os.TempDir(), "imgcache")
}

// FileCache 以单个目录承载一个缓存分组，所有文件 I/O 共用 mu。
type FileCache struct {
	group  string
	dir    string
	logger *logrus.Logger
	now    func() time.Time

	mu sync.Mutex
}

var _ Store = (*FileCache)(nil)

// Group 返回分组名。
func (c *FileCache) Group() string {
	return c.group
}

// Dir 返回分组目录的绝对路径。
func (c *FileCache) Dir() string {
	return c.dir
}

// KeyEncode 使用 SHA-256 十六进制摘要作为文件名，长度固定且不含路径分隔符。
func (c *FileCache) KeyEncode(key string) string {
	return EncodeKey(key)
}

// EncodeKey 是 KeyEncode 的包级版本，便于无实例时计算文件名。
func EncodeKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (c *FileCache) PathFor(key string) string {
	return filepath.Join(c.dir, EncodeKey(key))
}

func (c *FileCache) Exists(key string) bool {
	info, err := os.Stat(c.PathFor(key))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

func (c *FileCache) LastWrite(key string) (time.Time, bool) {
	info, err := os.Stat(c.PathFor(key))
	if err != nil || !info.Mode().IsRegular() {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Write 通过临时文件 + rename 覆盖条目，读者只会看到完整的新旧内容之一。
func (c *FileCache) Write(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.PathFor(key)
	if err := os.MkdirAll(c.dir, dirPerm); err != nil {
		return &OpError{Op: "mkdir", Key: key, Path: c.dir, Err: err}
	}

	tempFile, err := os.CreateTemp(c.dir, tempPattern)
	if err != nil {
		return &OpError{Op: "write", Key: key, Path: filePath, Err: err}
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tempName, filePerm)
	}
	if err == nil {
		modTime := c.now()
		err = os.Chtimes(tempName, modTime, modTime)
	}
	if err != nil {
		os.Remove(tempName)
		return &OpError{Op: "write", Key: key, Path: filePath, Err: err}
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return &OpError{Op: "rename", Key: key, Path: filePath, Err: err}
	}
	return nil
}

func (c *FileCache) Read(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.PathFor(key)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if isMiss(err) {
			return nil, false, nil
		}
		return nil, false, &OpError{Op: "read", Key: key, Path: filePath, Err: err}
	}
	return data, true, nil
}

func (c *FileCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key, c.PathFor(key))
}

func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(c.dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return &OpError{Op: "clear", Path: c.dir, Err: err}
	}
	return nil
}

func (c *FileCache) RemoveExpired(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_sweep",
				"group":  c.group,
			}).Warn("cache_sweep_failed")
		}
		return 0
	}

	now := c.now()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// 与并发删除竞争，下次清理再处理
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if c.removeLocked("", filepath.Join(c.dir, entry.Name())) {
			removed++
		}
	}
	return removed
}

// removeLocked 删除单个条目文件，返回文件是否已不存在。调用方需持有 mu。
func (c *FileCache) removeLocked(key, filePath string) bool {
	err := os.Remove(filePath)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return err == nil
	}
	fields := logrus.Fields{
		"action": "cache_remove",
		"group":  c.group,
		"path":   filePath,
	}
	if key != "" {
		fields["key"] = key
	}
	c.logger.WithError(err).WithFields(fields).Warn("cache_remove_failed")
	return false
}

func isMiss(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	// 路径被目录占用时 ReadFile 返回 EISDIR，同样按未命中处理
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		if info, statErr := os.Stat(pathErr.Path); statErr == nil && info.IsDir() {
			return true
		}
	}
	return false
}

func validateGroup(group string) error {
	if group == "." || group == ".." || strings.ContainsAny(group, `/\`) || strings.ContainsRune(group, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	return nil
}

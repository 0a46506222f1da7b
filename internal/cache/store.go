package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultGroup 是未指定分组时使用的目录名。
const DefaultGroup = "default"

// Store 描述单个缓存分组的全部操作。磁盘布局遵循：
//
//	<BasePath>/<Group>/<KeyEncode(key)>    # 原始字节，mtime 即写入时间
//
// Write/Read/Remove/Clear/RemoveExpired 在同一把锁内串行执行；
// Exists/LastWrite/PathFor/KeyEncode 只读元数据，不加锁。
type Store interface {
	// KeyEncode 将任意 key 映射为文件系统安全的文件名。
	KeyEncode(key string) string

	// Exists 判断条目文件当前是否存在。
	Exists(key string) bool

	// Write 覆盖写入条目，底层 I/O 失败时返回 *OpError。
	Write(key string, data []byte) error

	// Read 返回条目内容；未命中时 ok 为 false 且 err 为 nil。
	Read(key string) (data []byte, ok bool, err error)

	// Remove 尽力删除条目，失败只记录日志。
	Remove(key string)

	// Clear 删除整个分组目录，目录不存在时视为成功。
	Clear() error

	// RemoveExpired 删除 mtime 距今不小于 maxAge 的所有条目，返回删除数量。
	RemoveExpired(maxAge time.Duration) int

	// LastWrite 返回条目的最后写入时间。
	LastWrite(key string) (time.Time, bool)

	// PathFor 返回条目应处的磁盘路径，不检查是否存在。
	PathFor(key string) string
}

// Options 控制 FileCache 的根目录、分组与初次清理阈值。
type Options struct {
	// BasePath 为空时使用 DefaultBasePath()。
	BasePath string
	// Group 为空时使用 DefaultGroup。
	Group string
	// MaxAge 用于构造时的过期清理，<=0 表示不清理。
	MaxAge time.Duration
	Logger *logrus.Logger
	// Now 允许测试注入时钟，默认 time.Now。
	Now func() time.Time
}

// ErrInvalidGroup 表示分组名无法作为单级目录使用。
var ErrInvalidGroup = errors.New("invalid cache group")

// OpError 记录失败的缓存操作及其底层原因。
type OpError struct {
	Op   string
	Key  string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("cache %s %q (%s): %v", e.Op, e.Key, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

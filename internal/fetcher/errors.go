package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptySource 表示请求未携带图片地址。
	ErrEmptySource = errors.New("image source is empty")
	// ErrLocalDisabled 表示未开启本地文件读取却收到了非 http 地址。
	ErrLocalDisabled = errors.New("local image sources are disabled")
	// ErrTooLarge 表示上游响应超过 MaxBytes。
	ErrTooLarge = errors.New("image exceeds size limit")

	errEntryVanished = errors.New("cache entry vanished before read")
)

// StatusError 记录上游返回的非 2xx 状态码。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}

// Permanent 报告该状态码是否不值得重试：除 408/429 外的 4xx 都视为永久失败。
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

package proxy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/fetcher"
	"github.com/any-hub/imgcache/internal/imaging"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/server"
)

// maxDimension 限制 w/h 参数，避免请求方触发超大缩放。
const maxDimension = 8192

// Handler 负责把 /image 请求翻译为 fetcher.Request，并把结果写回响应，
// 缓存命中与回源均由分组的 Loader 完成。
type Handler struct {
	logger *logrus.Logger
}

// NewHandler constructs an image handler.
func NewHandler(logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{logger: logger}
}

// Handle 解析 src/w/h，调用分组 Loader 并输出图片；任何失败都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.GroupRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	source := strings.TrimSpace(c.Query("src"))

	if source == "" {
		h.logResult(route, requestID, source, fiber.StatusBadRequest, false, started, fetcher.ErrEmptySource)
		return h.writeError(c, fiber.StatusBadRequest, "src_required")
	}

	width, err := parseDimension(c.Query("w"), route.Width)
	if err == nil {
		var height int
		height, err = parseDimension(c.Query("h"), route.Height)
		if err == nil {
			return h.serve(c, route, requestID, fetcher.Request{Source: source, Width: width, Height: height}, started)
		}
	}
	h.logResult(route, requestID, source, fiber.StatusBadRequest, false, started, err)
	return h.writeError(c, fiber.StatusBadRequest, "invalid_size")
}

func (h *Handler) serve(c fiber.Ctx, route *server.GroupRoute, requestID string, req fetcher.Request, started time.Time) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := route.Loader.Load(ctx, req)
	if err != nil {
		status, code := classifyLoadError(err)
		h.logResult(route, requestID, req.Source, status, false, started, err)
		return h.writeError(c, status, code)
	}

	if result.ContentType != "" {
		c.Set("Content-Type", result.ContentType)
	}
	if route.MaxAge > 0 {
		c.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int64(route.MaxAge/time.Second)))
	}
	c.Set("X-Imgcache-Cache-Hit", strconv.FormatBool(result.CacheHit))
	c.Set("X-Imgcache-Group", route.Name())
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	h.logResult(route, requestID, req.Source, fiber.StatusOK, result.CacheHit, started, nil)
	return c.Status(fiber.StatusOK).Send(result.Data)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.GroupRoute,
	requestID string,
	source string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(requestID, route.Name(), source, cacheHit)
	fields["action"] = "image"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		if status >= fiber.StatusInternalServerError {
			h.logger.WithFields(fields).Error("image_failed")
		} else {
			h.logger.WithFields(fields).Warn("image_rejected")
		}
		return
	}
	h.logger.WithFields(fields).Info("image_complete")
}

func classifyLoadError(err error) (int, string) {
	switch {
	case errors.Is(err, fetcher.ErrEmptySource):
		return fiber.StatusBadRequest, "src_required"
	case errors.Is(err, fetcher.ErrLocalDisabled):
		return fiber.StatusForbidden, "local_disabled"
	case errors.Is(err, imaging.ErrTooManyPixels):
		return fiber.StatusUnprocessableEntity, "image_too_large"
	default:
		return fiber.StatusBadGateway, "load_failed"
	}
}

// parseDimension 解析尺寸参数；缺省时使用分组默认值。
func parseDimension(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid dimension %q", raw)
	}
	if value < 0 || value > maxDimension {
		return 0, fmt.Errorf("dimension %d out of range", value)
	}
	return value, nil
}

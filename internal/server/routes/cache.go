package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/server"
	"github.com/any-hub/imgcache/internal/version"
)

// RegisterCacheRoutes 暴露 /-/ 诊断与管理接口：查看分组、查询/删除条目、手动清理。
func RegisterCacheRoutes(app *fiber.App, registry *server.GroupRegistry, logger *logrus.Logger) {
	if app == nil || registry == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/version", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"version": version.Full()})
	})

	app.Get("/-/groups", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"groups": encodeGroups(registry.List())})
	})

	app.Get("/-/cache/:group/entry", withGroup(registry, func(c fiber.Ctx, route *server.GroupRoute) error {
		key := c.Query("key")
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key_required"})
		}
		return c.JSON(encodeEntry(route, key))
	}))

	app.Delete("/-/cache/:group/entry", withGroup(registry, func(c fiber.Ctx, route *server.GroupRoute) error {
		key := c.Query("key")
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key_required"})
		}
		route.Cache.Remove(key)
		logger.WithFields(logging.CacheFields("cache_remove", route.Name(), key)).Info("cache entry removed")
		return c.SendStatus(fiber.StatusNoContent)
	}))

	app.Post("/-/cache/:group/sweep", withGroup(registry, func(c fiber.Ctx, route *server.GroupRoute) error {
		removed := route.Sweeper.SweepOnce()
		fields := logging.CacheFields("cache_sweep", route.Name(), "")
		fields["removed"] = removed
		logger.WithFields(fields).Info("cache sweep requested")
		return c.JSON(fiber.Map{"removed": removed})
	}))

	app.Delete("/-/cache/:group", withGroup(registry, func(c fiber.Ctx, route *server.GroupRoute) error {
		if err := route.Cache.Clear(); err != nil {
			logger.WithError(err).WithFields(logging.CacheFields("cache_clear", route.Name(), "")).Error("cache clear failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "clear_failed"})
		}
		logger.WithFields(logging.CacheFields("cache_clear", route.Name(), "")).Info("cache group cleared")
		return c.SendStatus(fiber.StatusNoContent)
	}))
}

func withGroup(registry *server.GroupRegistry, fn func(fiber.Ctx, *server.GroupRoute) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		route, ok := registry.Lookup(c.Params("group"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "group_unknown"})
		}
		return fn(c, route)
	}
}

type groupPayload struct {
	Name          string `json:"name"`
	Dir           string `json:"dir"`
	MaxAgeSeconds int64  `json:"max_age_seconds"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
}

type entryPayload struct {
	Key        string     `json:"key"`
	EncodedKey string     `json:"encoded_key"`
	Path       string     `json:"path"`
	Exists     bool       `json:"exists"`
	LastWrite  *time.Time `json:"last_write,omitempty"`
}

func encodeGroups(routes []*server.GroupRoute) []groupPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]groupPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, groupPayload{
			Name:          route.Name(),
			Dir:           route.Dir,
			MaxAgeSeconds: int64(route.MaxAge / time.Second),
			Width:         route.Width,
			Height:        route.Height,
		})
	}
	return result
}

func encodeEntry(route *server.GroupRoute, key string) entryPayload {
	payload := entryPayload{
		Key:        key,
		EncodedKey: route.Cache.KeyEncode(key),
		Path:       route.Cache.PathFor(key),
		Exists:     route.Cache.Exists(key),
	}
	if modTime, ok := route.Cache.LastWrite(key); ok {
		utc := modTime.UTC()
		payload.LastWrite = &utc
	}
	return payload
}

package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ImageHandler describes the component that serves images for a resolved
// cache group. It allows injecting fake handlers during tests.
type ImageHandler interface {
	Handle(fiber.Ctx, *GroupRoute) error
}

// ImageHandlerFunc adapts a function to the ImageHandler interface.
type ImageHandlerFunc func(fiber.Ctx, *GroupRoute) error

// Handle makes ImageHandlerFunc satisfy ImageHandler.
func (f ImageHandlerFunc) Handle(c fiber.Ctx, route *GroupRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger   *logrus.Logger
	Registry *GroupRegistry
	Images   ImageHandler
}

const (
	contextKeyRoute     = "_imgcache_route"
	contextKeyRequestID = "_imgcache_request_id"
)

// NewApp builds a Fiber application with request id middleware and the
// /image routes. Diagnostics routes under /-/ are registered separately.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("group registry is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image handler is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	serve := func(c fiber.Ctx) error {
		route, ok := getRouteFromContext(c)
		if !ok {
			return renderGroupUnknown(c, opts.Logger, c.Params("group"))
		}
		return opts.Images.Handle(c, route)
	}
	resolve := groupMiddleware(opts)
	app.Get("/image", resolve, serve)
	app.Get("/image/:group", resolve, serve)

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID 并回写 X-Request-ID。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// groupMiddleware 根据路径参数查找 GroupRoute，未指定时使用默认分组。
func groupMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		name := c.Params("group")
		var (
			route *GroupRoute
			ok    bool
		)
		if name == "" {
			route, ok = opts.Registry.Default()
		} else {
			route, ok = opts.Registry.Lookup(name)
		}
		if !ok {
			return renderGroupUnknown(c, opts.Logger, name)
		}
		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

func renderGroupUnknown(c fiber.Ctx, logger *logrus.Logger, group string) error {
	logger.WithFields(logrus.Fields{
		"action":     "group_lookup",
		"group":      group,
		"request_id": RequestID(c),
	}).Warn("group unknown")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "group_unknown",
	})
}

func getRouteFromContext(c fiber.Ctx) (*GroupRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*GroupRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

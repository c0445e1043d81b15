package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/img-hub/img-hub/internal/fetcher"
)

// FetchHandler describes the component responsible for running a fetch and
// writing the cached file back. It allows injecting fakes during tests.
type FetchHandler interface {
	Handle(fiber.Ctx, fetcher.Request) error
}

// FetchHandlerFunc adapts a function to the FetchHandler interface.
type FetchHandlerFunc func(fiber.Ctx, fetcher.Request) error

// Handle makes FetchHandlerFunc satisfy FetchHandler.
func (f FetchHandlerFunc) Handle(c fiber.Ctx, req fetcher.Request) error {
	return f(c, req)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Fetch      FetchHandler
	ListenPort int
}

const contextKeyRequestID = "_imghub_request_id"

// NewApp builds a Fiber application with the fetch endpoint and structured
// error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Fetch == nil {
		return nil, errors.New("fetch handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/fetch", func(c fiber.Ctx) error {
		req, err := parseFetchRequest(c)
		if err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action": "parse_fetch_request",
				"error":  err.Error(),
			}).Warn("非法抓取请求")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return opts.Fetch.Handle(c, req)
	})

	return app, nil
}

// requestIDMiddleware 负责生成请求 ID 并回写响应头，便于日志串联。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// parseFetchRequest 校验查询参数并翻译为抓取请求。url 必填，
// w/h 为可选的尺寸提示，precheck 控制是否执行前置条件检查。
func parseFetchRequest(c fiber.Ctx) (fetcher.Request, error) {
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return fetcher.Request{}, errors.New("url_required")
	}

	req := fetcher.Request{
		Key:                rawURL,
		CheckPreconditions: true,
	}

	if raw := c.Query("w"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil || width < 0 {
			return fetcher.Request{}, errors.New("invalid_width")
		}
		req.TargetWidth = width
	}
	if raw := c.Query("h"); raw != "" {
		height, err := strconv.Atoi(raw)
		if err != nil || height < 0 {
			return fetcher.Request{}, errors.New("invalid_height")
		}
		req.TargetHeight = height
	}
	if raw := c.Query("precheck"); raw != "" {
		precheck, err := strconv.ParseBool(raw)
		if err != nil {
			return fetcher.Request{}, errors.New("invalid_precheck")
		}
		req.CheckPreconditions = precheck
	}

	return req, nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/img-hub/img-hub/internal/fetcher"
)

// Gateway 把 HTTP 请求翻译为抓取任务交给后台池执行，抓取结束后把缓存内
// 的文件流式回写给客户端。它是抓取核心在网络边界上的唯一出入口。
type Gateway struct {
	pool    *fetcher.Pool
	logger  *logrus.Logger
	timeout time.Duration
}

// NewGateway constructs the fetch gateway with a shared pool/logger.
func NewGateway(pool *fetcher.Pool, logger *logrus.Logger, timeout time.Duration) *Gateway {
	return &Gateway{
		pool:    pool,
		logger:  logger,
		timeout: timeout,
	}
}

// Handle 提交抓取并等待结论，按错误类别映射 HTTP 状态码。
// 宽高提示不做任何处理，原样通过响应头透传给调用方。
func (g *Gateway) Handle(c fiber.Ctx, req fetcher.Request) error {
	started := time.Now()
	requestID := RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out := <-g.pool.Submit(ctx, req)
	g.logResult(req, requestID, out, started)

	if out.Err != nil {
		status, code := classifyError(out.Err)
		return c.Status(status).JSON(fiber.Map{"error": code})
	}

	c.Set("X-Img-Hub-Cache-Hit", fmt.Sprintf("%t", out.Result.CacheHit))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	if req.TargetWidth > 0 {
		c.Set("X-Img-Hub-Target-Width", fmt.Sprintf("%d", req.TargetWidth))
	}
	if req.TargetHeight > 0 {
		c.Set("X-Img-Hub-Target-Height", fmt.Sprintf("%d", req.TargetHeight))
	}

	return c.SendFile(out.Result.Path)
}

func (g *Gateway) logResult(req fetcher.Request, requestID string, out fetcher.Outcome, started time.Time) {
	fields := logrus.Fields{
		"action":      "fetch",
		"key":         req.Key,
		"request_id":  requestID,
		"cache_hit":   out.Result.CacheHit,
		"size_bytes":  out.Result.Size,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if out.Err != nil {
		g.logger.WithError(out.Err).WithFields(fields).Warn("抓取失败")
		return
	}
	g.logger.WithFields(fields).Info("抓取完成")
}

// classifyError 把抓取核心的四类终态映射为对外的状态码与错误码。
func classifyError(err error) (status int, code string) {
	switch {
	case errors.Is(err, fetcher.ErrCacheUnavailable):
		return fiber.StatusServiceUnavailable, "cache_unavailable"
	case errors.Is(err, fetcher.ErrPreconditionFailed):
		return fiber.StatusPreconditionFailed, "precondition_failed"
	case errors.Is(err, fetcher.ErrCancelled):
		return fiber.StatusGatewayTimeout, "fetch_cancelled"
	default:
		return fiber.StatusBadGateway, "transfer_failed"
	}
}

package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/img-hub/img-hub/internal/version"
)

// StatsFunc 返回缓存当前的条目数与占用字节数。
type StatsFunc func() (entries int, usedBytes int64)

// RegisterDiagnosticsRoutes 暴露 /-/stats 诊断接口，供 SRE 查询缓存水位。
func RegisterDiagnosticsRoutes(app *fiber.App, stats StatsFunc) {
	if app == nil || stats == nil {
		return
	}

	app.Get("/-/stats", func(c fiber.Ctx) error {
		entries, used := stats()
		return c.JSON(fiber.Map{
			"version":    version.Full(),
			"entries":    entries,
			"used_bytes": used,
		})
	})
}

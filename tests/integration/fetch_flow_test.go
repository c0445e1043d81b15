package integration

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/img-hub/img-hub/internal/config"
	"github.com/img-hub/img-hub/internal/fetcher"
	"github.com/img-hub/img-hub/internal/server"
	"github.com/img-hub/img-hub/internal/server/routes"
)

// TestFetchFlowMissThenHit 覆盖完整链路：
// 配置 → 抓取核心 → 后台池 → Fiber 网关，先回源再命中。
func TestFetchFlowMissThenHit(t *testing.T) {
	payload := bytes.Repeat([]byte("pixel"), 2048)
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	storageDir := t.TempDir()
	cacheDir := filepath.Join(storageDir, "http")
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:    5100,
			StoragePath:   storageDir,
			CacheCapacity: 1 << 20,
			FetchWorkers:  2,
			FetchTimeout:  config.Duration(10 * time.Second),
		},
		Sources: []config.SourceConfig{
			{Name: "stub", URLPrefix: upstream.URL},
		},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	core, err := fetcher.New(fetcher.Options{
		CacheDir: cacheDir,
		Capacity: cfg.Global.CacheCapacity,
		Client:   server.NewUpstreamClient(cfg),
		Logger:   logger,
		Sources:  cfg.Sources,
	})
	if err != nil {
		t.Fatalf("fetcher error: %v", err)
	}
	pool := fetcher.NewPool(core, cfg.Global.FetchWorkers)
	gateway := server.NewGateway(pool, logger, cfg.Global.FetchTimeout.DurationValue())

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Fetch:      gateway,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterDiagnosticsRoutes(app, func() (int, int64) { return 0, 0 })

	doRequest := func() *http.Response {
		req := httptest.NewRequest("GET", "/fetch?url="+upstream.URL+"/photo.jpg", nil)
		resp, err := app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		return resp
	}

	// Miss -> upstream fetch
	resp := doRequest()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if hit := resp.Header.Get("X-Img-Hub-Cache-Hit"); hit != "false" {
		t.Fatalf("expected cache miss header, got %s", hit)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(body, payload) {
		t.Fatalf("miss response body mismatch")
	}

	// Hit -> no upstream traffic
	resp2 := doRequest()
	if resp2.Header.Get("X-Img-Hub-Cache-Hit") != "true" {
		t.Fatalf("expected cache hit on second request")
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if !bytes.Equal(body2, payload) {
		t.Fatalf("hit response body mismatch")
	}

	if got := atomic.LoadInt32(&upstreamHits); got != 1 {
		t.Fatalf("expected single upstream GET, got %d", got)
	}

	// 缓存目录内应恰有一个条目，且内容与上游一致。
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one cache entry, got %d", len(entries))
	}
	onDisk, err := os.ReadFile(filepath.Join(cacheDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read cache entry: %v", err)
	}
	if !bytes.Equal(onDisk, payload) {
		t.Fatalf("cached entry bytes differ from upstream")
	}
}

// TestFetchFlowBlockedSource 验证来源白名单在网关层同样生效。
func TestFetchFlowBlockedSource(t *testing.T) {
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
	}))
	defer upstream.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	core, err := fetcher.New(fetcher.Options{
		CacheDir: t.TempDir(),
		Capacity: 1 << 20,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Logger:   logger,
		Sources: []config.SourceConfig{
			{Name: "other", URLPrefix: "https://allowed.example.com/"},
		},
	})
	if err != nil {
		t.Fatalf("fetcher error: %v", err)
	}
	gateway := server.NewGateway(fetcher.NewPool(core, 1), logger, 5*time.Second)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Fetch:      gateway,
		ListenPort: 5100,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/fetch?url="+upstream.URL+"/a.jpg", nil), fiber.TestConfig{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != fiber.StatusPreconditionFailed {
		t.Fatalf("expected 412 status, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&upstreamHits) != 0 {
		t.Fatalf("blocked source must not reach upstream")
	}
}

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/img-hub/img-hub/internal/config"
	"github.com/img-hub/img-hub/internal/diskcache"
	"github.com/img-hub/img-hub/internal/fetcher"
	"github.com/img-hub/img-hub/internal/logging"
	"github.com/img-hub/img-hub/internal/server"
	"github.com/img-hub/img-hub/internal/server/routes"
	"github.com/img-hub/img-hub/internal/telemetry"
	"github.com/img-hub/img-hub/internal/version"
)

// cacheSubdir 是 StoragePath 下存放下载缓存的子目录。
const cacheSubdir = "http"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sources"] = len(cfg.Sources)
		fields["credentials"] = config.CredentialModes(cfg.Sources)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动遵循“配置 → 日志 → 抓取核心 → Fiber server”顺序，
	// 所有请求共享同一个 http.Client 与抓取池。
	cacheDir := filepath.Join(cfg.Global.StoragePath, cacheSubdir)
	httpClient := server.NewUpstreamClient(cfg)
	sink := telemetry.NewLogSink(logger)

	core, err := fetcher.New(fetcher.Options{
		CacheDir: cacheDir,
		Capacity: cfg.Global.CacheCapacity,
		Client:   httpClient,
		Logger:   logger,
		Sink:     sink,
		Sources:  cfg.Sources,
		TestMode: cfg.Global.TestMode,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建抓取核心失败: %v\n", err)
		return 1
	}
	pool := fetcher.NewPool(core, cfg.Global.FetchWorkers)
	gateway := server.NewGateway(pool, logger, cfg.Global.FetchTimeout.DurationValue())

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sources"] = len(cfg.Sources)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_dir"] = cacheDir
	fields["cache_capacity"] = cfg.Global.CacheCapacity
	fields["fetch_workers"] = cfg.Global.FetchWorkers
	fields["credentials"] = config.CredentialModes(cfg.Sources)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, gateway, cacheDir, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("img-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMG_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMG_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, gateway *server.Gateway, cacheDir string, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Fetch:      gateway,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	// 诊断轮询只做只读扫描，绝不触发扫盘清理，避免干扰进行中的下载。
	routes.RegisterDiagnosticsRoutes(app, func() (int, int64) {
		count, used, err := diskcache.Usage(cacheDir)
		if err != nil {
			return 0, 0
		}
		return count, used
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

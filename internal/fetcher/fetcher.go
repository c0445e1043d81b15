package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/img-hub/img-hub/internal/config"
	"github.com/img-hub/img-hub/internal/diskcache"
	"github.com/img-hub/img-hub/internal/logging"
	"github.com/img-hub/img-hub/internal/telemetry"
)

// openAttempts 限定 open→clear→open 自愈循环的次数上限。
const openAttempts = 2

// Request 描述一次抓取。Key 即资源 URL；宽高仅作为提示透传给调用方，
// 本层不做任何图像处理。
type Request struct {
	Key          string
	TargetWidth  int
	TargetHeight int
	// CheckPreconditions 为 true 时执行注入的前置条件与来源鉴权检查。
	CheckPreconditions bool
}

// Result 是一次成功抓取的产物：缓存内的绝对文件路径。
type Result struct {
	Path     string
	CacheHit bool
	Size     int64
}

// Options 汇总 Fetcher 的全部依赖，便于在测试中注入替身。
type Options struct {
	CacheDir      string
	Capacity      int64
	Client        *http.Client
	Logger        *logrus.Logger
	Sink          telemetry.Sink
	Sources       []config.SourceConfig
	Preconditions []Precondition
	TestMode      bool
}

// Fetcher 按 open → check → download → promote 四个阶段执行抓取，
// 取消检查的粒度保证为每个拷贝块至少一次。
type Fetcher struct {
	cacheDir      string
	capacity      int64
	client        *http.Client
	logger        *logrus.Logger
	sink          telemetry.Sink
	sources       []config.SourceConfig
	preconditions []Precondition
	testMode      bool
}

// New 校验依赖并构造 Fetcher。Logger 与 Sink 缺省时退化为静默实现。
func New(opts Options) (*Fetcher, error) {
	if opts.CacheDir == "" {
		return nil, errors.New("cache directory required")
	}
	if opts.Capacity <= 0 {
		return nil, errors.New("cache capacity must be positive")
	}
	if opts.Client == nil {
		return nil, errors.New("http client required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	sink := opts.Sink
	if sink == nil {
		sink = telemetry.Nop
	}

	return &Fetcher{
		cacheDir:      opts.CacheDir,
		capacity:      opts.Capacity,
		client:        opts.Client,
		logger:        logger,
		sink:          sink,
		sources:       opts.Sources,
		preconditions: opts.Preconditions,
		testMode:      opts.TestMode,
	}, nil
}

// Fetch 执行完整流水线并返回缓存内文件路径。四类失败分别以
// ErrCacheUnavailable / ErrPreconditionFailed / ErrCancelled /
// ErrTransferFailed 为根错误返回，任何失败路径都不会泄漏临时文件。
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	if f.testMode && req.Key == "" {
		return Result{}, fmt.Errorf("%w: empty key in test mode", ErrPreconditionFailed)
	}

	store, err := f.openStore()
	if err != nil {
		return Result{}, err
	}

	if err := f.checkGates(ctx, req); err != nil {
		return Result{}, err
	}

	if res, ok := f.lookup(store, req); ok {
		return res, nil
	}

	return f.download(ctx, store, req)
}

// openStore 打开磁盘缓存；首次失败时清空目录后重试一次，再失败则放弃网络。
func (f *Fetcher) openStore() (*diskcache.Store, error) {
	var store *diskcache.Store
	err := withAttempts(openAttempts, func(attempt int) error {
		s, openErr := diskcache.Open(f.cacheDir, f.capacity)
		if openErr == nil {
			store = s
			return nil
		}

		f.sink.Event("cache_open_failed", f.cacheDir)
		f.logger.WithError(openErr).WithFields(logrus.Fields{
			"action":  "cache_open",
			"dir":     f.cacheDir,
			"attempt": attempt,
		}).Warn("打开缓存失败")

		// 打开失败多半是磁盘空间不足或目录损坏，清空后再试一次。
		if attempt < openAttempts {
			if clearErr := diskcache.Clear(f.cacheDir); clearErr != nil {
				f.logger.WithError(clearErr).WithFields(logrus.Fields{
					"action": "cache_clear",
					"dir":    f.cacheDir,
				}).Warn("清空缓存目录失败")
			}
		}
		return openErr
	})
	if err != nil {
		f.sink.Event("cache_open_failed_twice", f.cacheDir)
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return store, nil
}

// checkGates 在任何网络 I/O 之前执行取消检查与前置条件。
func (f *Fetcher) checkGates(ctx context.Context, req Request) error {
	// 请求开始前就已取消的，不发起任何网络调用。
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	if !req.CheckPreconditions {
		return nil
	}

	for _, pre := range f.preconditions {
		if !pre.Check() {
			return fmt.Errorf("%w: %s", ErrPreconditionFailed, pre.Name)
		}
	}

	src, ok := config.MatchSource(f.sources, req.Key)
	switch {
	case ok && src.RequireAuth && !src.HasCredentials():
		return fmt.Errorf("%w: source %s requires credentials", ErrPreconditionFailed, src.Name)
	case !ok && len(f.sources) > 0:
		return fmt.Errorf("%w: no source allows %s", ErrPreconditionFailed, req.Key)
	}
	return nil
}

// lookup 实现缓存命中短路：命中即返回路径，不访问网络。
func (f *Fetcher) lookup(store *diskcache.Store, req Request) (Result, bool) {
	if !store.Contains(req.Key) {
		return Result{}, false
	}

	path := store.FilePath(req.Key)
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	f.sink.Event("cache_hit", req.Key)
	f.logger.WithFields(logging.FetchFields(req.Key, f.sourceName(req.Key), true)).Debug("缓存命中")
	return Result{Path: path, CacheHit: true, Size: size}, true
}

// download 把上游响应流式写入缓存目录内的临时文件，每个拷贝块检查一次取消，
// 完成后交给 promote 原子装入。
func (f *Fetcher) download(ctx context.Context, store *diskcache.Store, req Request) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Key, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %v", ErrTransferFailed, err)
	}
	if src, ok := config.MatchSource(f.sources, req.Key); ok && src.HasCredentials() {
		httpReq.SetBasicAuth(src.Username, src.Password)
	}

	started := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return Result{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: upstream status %d for %s", ErrTransferFailed, resp.StatusCode, req.Key)
	}

	// 临时文件与正式条目同目录，保证后续 rename 同卷因而原子。
	tmp, err := os.CreateTemp(store.Dir(), diskcache.TempPrefix+"*")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create temp file: %v", ErrTransferFailed, err)
	}
	tempName := tmp.Name()

	written, err := copyWithContext(ctx, tmp, resp.Body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		if ctx.Err() != nil {
			f.logger.WithFields(logrus.Fields{
				"action": "download_cancelled",
				"key":    req.Key,
				"temp":   tempName,
			}).Debug("取消抓取，已删除临时文件")
			return Result{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return Result{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	f.sink.Timing("download", time.Since(started))

	path, err := f.promote(store, req.Key, tempName)
	if err != nil {
		return Result{}, err
	}

	f.logger.WithFields(logging.FetchFields(req.Key, f.sourceName(req.Key), false)).Debug("下载完成并装入缓存")
	return Result{Path: path, CacheHit: false, Size: written}, nil
}

// promote 执行存在性复检 + rename：先装入者获胜，后到的下载数据被丢弃。
// 复检只能缩小竞态窗口，正确性兜底依赖同卷 rename 不覆盖已有条目的约定。
func (f *Fetcher) promote(store *diskcache.Store, key, tempName string) (string, error) {
	target := store.FilePath(key)

	if _, err := os.Stat(target); err == nil {
		// 并发抓取已先一步装入同一条目。
		os.Remove(tempName)
		return target, nil
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return "", fmt.Errorf("%w: install entry: %v", ErrTransferFailed, err)
	}
	store.NotifyInstalled(key)
	return target, nil
}

func (f *Fetcher) sourceName(key string) string {
	if src, ok := config.MatchSource(f.sources, key); ok {
		return src.Name
	}
	return ""
}

// copyWithContext 以 32 KiB 为块执行拷贝，每块开始前检查一次 ctx，
// 取消响应时延由块大小而非整个文件决定。
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

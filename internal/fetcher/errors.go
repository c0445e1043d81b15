package fetcher

import "errors"

// 抓取流程的四类终态。调用方用 errors.Is 区分，具体原因通过 %w 链保留。
var (
	// ErrCacheUnavailable 表示清空重试一次之后缓存仍然打不开，本次抓取放弃，
	// 不会发起任何网络请求。
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrPreconditionFailed 表示调用方注入的前置条件未通过，未执行任何 I/O。
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrCancelled 表示协作取消在完成之前被观察到，磁盘上不残留任何中间产物。
	ErrCancelled = errors.New("fetch cancelled")

	// ErrTransferFailed 表示下载或落盘过程中的网络/文件系统错误，本层不重试。
	ErrTransferFailed = errors.New("transfer failed")
)

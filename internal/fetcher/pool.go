package fetcher

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool 把抓取分派到容量受限的后台 worker 上执行，调用方通过结果通道
// 异步取回结论，自身不会阻塞在网络 I/O 上。
type Pool struct {
	fetcher *Fetcher
	group   *errgroup.Group
}

// Outcome 汇总一次抓取的结果或错误，二者恰有其一。
type Outcome struct {
	Result Result
	Err    error
}

// NewPool 构造 worker 数为 workers 的抓取池，非法值退化为 1。
func NewPool(f *Fetcher, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	group := new(errgroup.Group)
	group.SetLimit(workers)
	return &Pool{fetcher: f, group: group}
}

// Submit 立即返回容量为 1 的结果通道；worker 满员时抓取排队等待空位，
// 但 Submit 本身从不阻塞调用方。
func (p *Pool) Submit(ctx context.Context, req Request) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		p.group.Go(func() error {
			res, err := p.fetcher.Fetch(ctx, req)
			ch <- Outcome{Result: res, Err: err}
			return nil
		})
	}()
	return ch
}

// Wait 等待所有已开始的抓取结束，服务停机时调用。
func (p *Pool) Wait() {
	_ = p.group.Wait()
}

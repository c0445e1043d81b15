package fetcher

// withAttempts 以固定次数上限执行 op，第一次成功立即返回。
// 失败时返回最后一次的错误，attempt 从 1 开始计数。
func withAttempts(limit int, op func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		err = op(attempt)
		if err == nil {
			return nil
		}
	}
	return err
}

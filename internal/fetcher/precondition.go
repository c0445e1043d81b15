package fetcher

// Precondition 在任何网络 I/O 之前把关，例如"网络可达"或"已登录"。
// Check 必须无副作用且允许高频调用。
type Precondition struct {
	Name  string
	Check func() bool
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有来源共享同一份参数。
type GlobalConfig struct {
	ListenPort    int      `mapstructure:"ListenPort"`
	LogLevel      string   `mapstructure:"LogLevel"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups"`
	LogCompress   bool     `mapstructure:"LogCompress"`
	StoragePath   string   `mapstructure:"StoragePath"`
	CacheCapacity int64    `mapstructure:"CacheCapacity"`
	FetchWorkers  int      `mapstructure:"FetchWorkers"`
	FetchTimeout  Duration `mapstructure:"FetchTimeout"`
	TestMode      bool     `mapstructure:"TestMode"`
}

// SourceConfig 限定允许抓取的上游地址前缀，并可携带该来源的凭证。
type SourceConfig struct {
	Name        string `mapstructure:"Name"`
	URLPrefix   string `mapstructure:"URLPrefix"`
	Username    string `mapstructure:"Username"`
	Password    string `mapstructure:"Password"`
	RequireAuth bool   `mapstructure:"RequireAuth"`
}

// Config 是 TOML 文件映射的整体结构。Source 列表可以为空，
// 为空时任意 URL 都允许匿名抓取。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Sources []SourceConfig `mapstructure:"Source"`
}

// HasCredentials 表示当前来源是否配置了完整的上游凭证。
func (s SourceConfig) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (s SourceConfig) AuthMode() string {
	if s.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有来源的鉴权模式摘要，例如 cdn:credentialed。
func CredentialModes(sources []SourceConfig) []string {
	if len(sources) == 0 {
		return nil
	}
	result := make([]string, len(sources))
	for i, src := range sources {
		result[i] = fmt.Sprintf("%s:%s", src.Name, src.AuthMode())
	}
	return result
}

// SourceFor 按最长前缀匹配返回 rawURL 对应的来源配置。
func (c *Config) SourceFor(rawURL string) (SourceConfig, bool) {
	return MatchSource(c.Sources, rawURL)
}

// MatchSource 在来源列表中做最长前缀匹配，列表为空时恒不匹配。
func MatchSource(sources []SourceConfig, rawURL string) (SourceConfig, bool) {
	var (
		best    SourceConfig
		bestLen = -1
	)
	for _, src := range sources {
		if strings.HasPrefix(rawURL, src.URLPrefix) && len(src.URLPrefix) > bestLen {
			best = src
			bestLen = len(src.URLPrefix)
		}
	}
	return best, bestLen >= 0
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheCapacity <= 0 {
		return newFieldError("Global.CacheCapacity", "必须大于 0")
	}
	if g.FetchWorkers <= 0 {
		return newFieldError("Global.FetchWorkers", "必须大于 0")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return newFieldError("Source[].Name", "不能为空")
		}
		if _, exists := seenNames[src.Name]; exists {
			return newFieldError(sourceField(src.Name, "Name"), "重复")
		}
		seenNames[src.Name] = struct{}{}

		if err := validateURLPrefix(src.URLPrefix); err != nil {
			return fmt.Errorf("%s: %w", sourceField(src.Name, "URLPrefix"), err)
		}

		if (src.Username == "") != (src.Password == "") {
			return newFieldError(sourceField(src.Name, "Username/Password"), "必须同时提供或同时留空")
		}
	}

	return nil
}

func validateURLPrefix(raw string) error {
	if raw == "" {
		return errors.New("缺少地址前缀")
	}
	if strings.Contains(raw, " ") {
		return errors.New("地址前缀不允许包含空格")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，前缀: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("前缀缺少 Host: %s", raw)
	}
	return nil
}

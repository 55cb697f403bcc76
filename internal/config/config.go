package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const EnvConfigPath = "SCALPGUARD_CONFIG"

// 敏感字段优先从环境变量读取（.env 由 main 预先加载）。
const (
	envTelegramBotToken = "SCALPGUARD_TELEGRAM_BOT_TOKEN"
	envTelegramChatID   = "SCALPGUARD_TELEGRAM_CHAT_ID"
	envHTTPAddr         = "SCALPGUARD_HTTP_ADDR"
)

var envOverrides = []struct {
	name  string
	apply func(*Config, string)
}{
	{envTelegramBotToken, func(c *Config, v string) { c.Notify.Telegram.BotToken = v }},
	{envTelegramChatID, func(c *Config, v string) { c.Notify.Telegram.ChatID = v }},
	{envHTTPAddr, func(c *Config, v string) { c.App.HTTPAddr = v }},
}

// Load 读取主配置及其 include 链，按"被包含者在前、包含者在后"的顺序合并，
// 然后只对文件中未出现的键补默认值，最后做环境变量覆盖与校验。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	files := newFileSet()
	if err := files.visit(root); err != nil {
		return nil, err
	}

	merged := viper.New()
	merged.SetConfigType("yaml")
	for _, file := range files.order {
		layer := viper.New()
		layer.SetConfigFile(file)
		if err := layer.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := merged.MergeConfigMap(layer.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}

	var cfg Config
	if err := merged.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	explicit := make(keySet)
	for _, key := range merged.AllKeys() {
		explicit.mark(key)
	}
	cfg.applyDefaults(explicit)
	cfg.applyEnv(os.LookupEnv)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for _, o := range envOverrides {
		if v, ok := lookup(o.name); ok && strings.TrimSpace(v) != "" {
			o.apply(c, strings.TrimSpace(v))
		}
	}
}

// fileSet 深度优先展开 include，visiting 用于发现环。
type fileSet struct {
	order    []string
	done     map[string]bool
	visiting map[string]bool
}

func newFileSet() *fileSet {
	return &fileSet{done: map[string]bool{}, visiting: map[string]bool{}}
}

func (s *fileSet) visit(path string) error {
	path = filepath.Clean(path)
	switch {
	case s.visiting[path]:
		return fmt.Errorf("include cycle detected: %s", path)
	case s.done[path]:
		return nil
	}
	s.visiting[path] = true
	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := s.visit(inc); err != nil {
			return err
		}
	}
	delete(s.visiting, path)
	s.done[path] = true
	s.order = append(s.order, path)
	return nil
}

func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if !v.IsSet("include") {
		return nil, nil
	}
	var out []string
	for _, inc := range v.GetStringSlice("include") {
		if inc = strings.TrimSpace(inc); inc != "" {
			out = append(out, inc)
		}
	}
	return out, nil
}

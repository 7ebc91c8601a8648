package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 path 及其 include 链，按顺序合并后解码、补默认值并校验。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeResolver{visiting: map[string]bool{}, done: map[string]bool{}}
	if err := r.walk(root); err != nil {
		return nil, err
	}
	merged := viper.New()
	merged.SetConfigType("yaml")
	for _, layer := range r.layers {
		if err := merged.MergeConfigMap(layer.settings); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", layer.path, err)
		}
	}
	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	opt := func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = hooks
	}
	if err := v.Unmarshal(&cfg, opt); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.settings = v.AllSettings()
	explicit := make(keySet)
	markKeys("", cfg.settings, explicit)
	cfg.applyDefaults(explicit)
	cfg.expandEnv()
	return &cfg, nil
}

// expandEnv 展开密钥类字段中的 ${VAR}。
func (c *Config) expandEnv() {
	for i := range c.Providers {
		p := &c.Providers[i]
		p.APIKey = os.ExpandEnv(p.APIKey)
		p.APIURL = os.ExpandEnv(p.APIURL)
		for k, val := range p.Headers {
			p.Headers[k] = os.ExpandEnv(val)
		}
	}
	c.Exchange.APIKey = os.ExpandEnv(c.Exchange.APIKey)
	c.Exchange.SecretKey = os.ExpandEnv(c.Exchange.SecretKey)
	c.Notify.Telegram.BotToken = os.ExpandEnv(c.Notify.Telegram.BotToken)
	c.Notify.Telegram.ChatID = os.ExpandEnv(c.Notify.Telegram.ChatID)
}

type configLayer struct {
	path     string
	settings map[string]any
}

// includeResolver 深度优先展开 include，被引用文件先于引用者合并，同一文件只读一次。
type includeResolver struct {
	visiting map[string]bool
	done     map[string]bool
	layers   []configLayer
}

func (r *includeResolver) walk(path string) error {
	path = filepath.Clean(path)
	switch {
	case r.visiting[path]:
		return fmt.Errorf("include cycle detected: %s", path)
	case r.done[path]:
		return nil
	}
	r.visiting[path] = true
	defer delete(r.visiting, path)

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeList(v.Get("include"))
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.walk(inc); err != nil {
			return err
		}
	}
	r.done[path] = true
	r.layers = append(r.layers, configLayer{path: path, settings: v.AllSettings()})
	return nil
}

func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// markKeys 把嵌套 settings 摊平成小写点分键，数组视为叶子。
func markKeys(prefix string, node any, dest keySet) {
	var children map[string]any
	switch val := node.(type) {
	case map[string]any:
		children = val
	case map[any]any:
		children = make(map[string]any, len(val))
		for k, v := range val {
			if ks, ok := k.(string); ok {
				children[ks] = v
			}
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
		return
	}
	for k, v := range children {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		markKeys(key, v, dest)
	}
}

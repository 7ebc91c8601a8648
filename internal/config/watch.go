package config

import (
	"fmt"
	"strings"
	"sync"

	"quorum/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeListener 在配置变更并通过校验后被调用。
type ChangeListener func(*Config)

// Watcher 监听主配置文件，变更后重新 Load，并把新配置推给订阅者。
// 只有 ensemble 与 risk 段会被运行中的组件采纳，其余字段需重启生效。
type Watcher struct {
	path string

	mu        sync.RWMutex
	current   *Config
	version   int64
	listeners []ChangeListener
}

func Watch(path string, initial *Config) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w := &Watcher{path: path, current: initial}
	if w.current == nil {
		if err := w.reload(); err != nil {
			return nil, err
		}
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("config reloaded (%s)", evt.Name)
		w.notify()
	})
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Version() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// reload 失败时保留旧配置。
func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	w.version++
	w.mu.Unlock()
	return nil
}

func (w *Watcher) notify() {
	w.mu.RLock()
	cfg := w.current
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("config listener panic: %v", r)
				}
			}()
			cb(cfg)
		}(fn)
	}
}

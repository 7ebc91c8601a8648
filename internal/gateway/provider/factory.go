package provider

import (
	"fmt"
	"sort"
	"strings"
)

type constructor func(Settings, ...Option) Adapter

var registry = map[string]constructor{
	"openai":    func(s Settings, o ...Option) Adapter { return NewOpenAI(s, o...) },
	"deepseek":  func(s Settings, o ...Option) Adapter { return NewOpenAI(s, o...) },
	"qwen":      func(s Settings, o ...Option) Adapter { return NewOpenAI(s, o...) },
	"anthropic": func(s Settings, o ...Option) Adapter { return NewAnthropic(s, o...) },
	"gemini":    func(s Settings, o ...Option) Adapter { return NewGemini(s, o...) },
}

var defaultBaseURL = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"deepseek":  "https://api.deepseek.com/v1",
	"qwen":      "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"anthropic": "https://api.anthropic.com/v1",
	"gemini":    "https://generativelanguage.googleapis.com/v1beta",
}

// New builds the adapter registered for cfg.Kind; an empty kind means openai.
func New(cfg Settings, opts ...Option) (Adapter, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = "openai"
	}
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("provider %s: unsupported kind %q (supported: %s)", cfg.ID, cfg.Kind, strings.Join(Kinds(), ", "))
	}
	cfg.Kind = kind
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL[kind]
	}
	return ctor(cfg, opts...), nil
}

func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

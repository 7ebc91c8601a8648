package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "******"

var secretKeys = map[string]bool{
	"api_key":    true,
	"secret_key": true,
	"bot_token":  true,
	"chat_id":    true,
}

// Summary 输出合并后的原始配置（密钥已脱敏），用于启动日志。
func (c *Config) Summary() (string, error) {
	buf, err := yaml.Marshal(redact(c.settings))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf)), nil
}

func redact(node any) any {
	switch val := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			if secretKeys[strings.ToLower(k)] {
				if s, ok := v.(string); ok && s != "" {
					out[k] = redacted
					continue
				}
			}
			if strings.ToLower(k) == "headers" {
				out[k] = redactAll(v)
				continue
			}
			out[k] = redact(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redact(item)
		}
		return out
	default:
		return val
	}
}

func redactAll(node any) any {
	m, ok := node.(map[string]any)
	if !ok {
		return node
	}
	out := make(map[string]any, len(m))
	for k := range m {
		out[k] = redacted
	}
	return out
}

package app

import (
	"fmt"
	"strings"

	"quorum/internal/gateway/provider"
)

type StartupSummary struct {
	Providers []provider.Adapter
	Exchange  string
	Symbols   []string
	Schedule  string
	Execute   bool
	// Effective 是脱敏后的完整配置（YAML）。
	Effective string
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[模型后端 (PROVIDERS)]")
	if len(s.Providers) == 0 {
		fmt.Println("  (无配置)")
	}
	for _, p := range s.Providers {
		state := "enabled"
		if !p.Enabled() {
			state = "disabled"
		}
		fmt.Printf("  > %s [%s] models: %s\n", p.ID(), state, formatList(p.Models()))
	}
	fmt.Println()

	fmt.Println("[调度 (SCHEDULE)]")
	fmt.Printf("  交易所: %s\n", s.Exchange)
	fmt.Printf("  监控币种: %s\n", formatList(s.Symbols))
	fmt.Printf("  计划: %s\n", s.Schedule)
	if s.Execute {
		fmt.Println("  下单: 开启")
	} else {
		fmt.Println("  下单: 关闭 (dry run)")
	}
	fmt.Println()

	if strings.TrimSpace(s.Effective) != "" {
		fmt.Println("[生效配置 (EFFECTIVE CONFIG)]")
		for _, line := range strings.Split(strings.TrimRight(s.Effective, "\n"), "\n") {
			fmt.Println("  " + line)
		}
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

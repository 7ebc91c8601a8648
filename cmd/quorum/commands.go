package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"quorum/internal/app"
	"quorum/internal/config"
	"quorum/internal/gateway/provider"
	"quorum/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/quorum.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string
	load := func() (*config.Config, string, error) {
		path := resolveConfigPath(cfgPath)
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("读取配置失败: %w", err)
		}
		logger.SetLevel(cfg.App.LogLevel)
		logger.Infof("✓ 配置加载成功（环境=%s，文件=%s）", cfg.App.Env, path)
		return cfg, path, nil
	}

	root := &cobra.Command{
		Use:           "quorum",
		Short:         "quorum - multi-provider AI trading ensemble",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env 不存在时忽略
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), load)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default $QUORUM_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newRunCmd(load),
		newHealthCmd(load),
		newDecideCmd(load),
		newConfigCmd(load),
	)
	return root
}

type loadFunc func() (*config.Config, string, error)

func resolveConfigPath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("QUORUM_CONFIG")); p != "" {
		return p
	}
	return defaultConfigPath
}

func newRunCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduled ensemble engine and the ops HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), load)
		},
	}
}

func runServe(ctx context.Context, load loadFunc) error {
	cfg, path, err := load()
	if err != nil {
		return err
	}
	a, err := app.NewApp(ctx, cfg, path)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	return a.Run(ctx)
}

func newHealthCmd(load loadFunc) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every configured provider once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			adapters, err := app.BuildProviders(cfg, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			results := probe(ctx, adapters)
			healthy := 0
			for _, r := range results {
				state := "DOWN"
				switch {
				case !r.enabled:
					state = "disabled"
				case r.healthy:
					state = "ok"
					healthy++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-8s %s\n", r.id, state, r.latency.Round(time.Millisecond))
			}
			if healthy == 0 {
				return fmt.Errorf("no healthy providers")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall probe timeout")
	return cmd
}

type probeResult struct {
	id      string
	enabled bool
	healthy bool
	latency time.Duration
}

func probe(ctx context.Context, adapters []provider.Adapter) []probeResult {
	out := make([]probeResult, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		out[i] = probeResult{id: a.ID(), enabled: a.Enabled()}
		if !a.Enabled() {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			out[i].healthy = a.IsHealthy(ctx)
			out[i].latency = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func newDecideCmd(load loadFunc) *cobra.Command {
	var (
		sym     string
		execute bool
	)
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Run a single ensemble cycle for one symbol and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			cfg.Schedule.Execute = execute
			a, err := app.NewApp(cmd.Context(), cfg, "", app.WithoutHTTP())
			if err != nil {
				return fmt.Errorf("初始化应用失败: %w", err)
			}
			defer a.Close()
			res, runErr := a.Engine().RunCycle(cmd.Context(), sym)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&sym, "symbol", "s", "", "symbol, e.g. BTCUSDT or BTC/USDT")
	cmd.Flags().BoolVar(&execute, "execute", false, "place the order if the risk gate approves")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

func newConfigCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			out, err := cfg.Summary()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

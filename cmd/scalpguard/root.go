package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"scalpguard/internal/config"
)

const defaultConfigPath = "configs/config.yaml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	serve := newServeCmd(opts)
	root := &cobra.Command{
		Use:   "scalpguard",
		Short: "Scalp exit engine with a session risk governor",
		Long: `scalpguard 监控短线持仓直到退出（止盈、止损、超时、机会退出），
并由会话风控在连续亏损或胜率过低时暂停/熔断新开仓。

不带子命令时等同于 "scalpguard serve"。`,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $"+config.EnvConfigPath+" or "+defaultConfigPath+")")
	root.AddCommand(serve, newConfigCmd(opts), newOutcomesCmd(opts), newEventsCmd(opts))
	return root
}

// resolvePath 优先使用 --config，其次环境变量，最后是默认路径。
func (o *rootOptions) resolvePath() string {
	if p := strings.TrimSpace(o.configPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.resolvePath())
}

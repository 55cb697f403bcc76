package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scalpguard/internal/app"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load the config and exit profiles, then print the startup summary",
		Long: `校验配置文件（含 include）与其引用的 exit profile 文件，
成功时打印启动摘要，不会打开数据库或监听端口。

Example:
  scalpguard config validate -c configs/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			summary, err := app.Preflight(cfg)
			if err != nil {
				return err
			}
			summary.Fprint(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s OK\n", opts.resolvePath())
			return nil
		},
	})
	return cmd
}

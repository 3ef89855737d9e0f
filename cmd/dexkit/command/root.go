// Package command dexkit 命令行
package command

import (
	"github.com/apk-analysis/dexkit-bridge/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globals 子命令共享的配置与日志
type globals struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *logrus.Logger
}

// NewCommand 返回 dexkit 根命令
func NewCommand() (cmd *cobra.Command) {
	g := &globals{}

	cmd = &cobra.Command{
		Use:          "dexkit",
		Short:        "DexKit bridge CLI",
		Long:         `dexkit constructs analysis engines from APK/DEX paths and inspects the load history.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			if g.verbose {
				cfg.Log.Level = "debug"
			}
			g.cfg = cfg
			g.logger = config.NewLogger(&cfg.Log, cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.AddCommand(
		newInspectCommand(g),
		newHistoryCommand(g),
	)

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "path to config.yaml (defaults + DEXKIT_* env when empty)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	return cmd
}

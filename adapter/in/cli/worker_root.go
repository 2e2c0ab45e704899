// Package cli implements the vitalred command line.
package cli

import (
	"os"

	"vitalred_worker/config"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/logger"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "vitalred",
		Short:         "VITAL RED referral intake: mailbox extraction and triage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return apperr.ConfigError(err.Error())
			}
			logger.Init(logger.Config{
				Level:   logger.ParseLevel(cfg.LogLevel),
				Output:  os.Stderr,
				Service: "vitalred",
				Console: cfg.IsDevelopment(),
			})
			opts.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML/JSON/TOML config file (environment variables win)")

	rootCmd.AddCommand(extractCmd(opts))
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(extractTextCmd(opts))
	rootCmd.AddCommand(credentialsCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))
	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		logger.WithError(err).Error("[CLI] command failed")
		return 1
	}
	return 0
}

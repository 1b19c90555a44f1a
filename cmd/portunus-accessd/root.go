package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/PRsofteng/start-control-access/internal/config"
	"github.com/PRsofteng/start-control-access/internal/logging"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	EnvFile string
	cfg     config.Config
	logger  *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "portunus-accessd",
		Short:         "RFID access verification and door coordination service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.EnvFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newImportRosterCommand(opts))

	return cmd
}

package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	dbPath     string
	ephemeral  bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "companion",
		Short:         "Serenity companion chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env 缺失时仅使用系统环境变量
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to load .env file: %v\n", err)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file (defaults to $SERENITY_CONFIG)")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides SERENITY_DB_PATH)")
	flags.BoolVar(&opts.ephemeral, "ephemeral", false, "keep all state in memory")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newServeCmd(opts), newSendCmd(opts), newSessionsCmd(opts))
	return cmd
}

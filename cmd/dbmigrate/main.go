package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/dbmigrate/cmd/dbmigrate/commands"
)

var rootCmd = &cobra.Command{
	Use:           "dbmigrate",
	Short:         "Apply forward-only schema changes tracked by a ledger table",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	v := viper.GetViper()

	// Environment variables support: DBMIGRATE_CONFIG, DBMIGRATE_DSN, ...
	v.SetEnvPrefix("DBMIGRATE")
	v.AutomaticEnv()

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to the config yaml")
	pf.String("driver", "", "database driver (sqlite, postgresql); overrides store.driver")
	pf.String("dsn", "", "connection string; overrides the store section")
	pf.String("table", "", "ledger table; overrides store.table")
	pf.String("tasks-dir", "", "directory of NNN_*.yaml task files; overrides tasks_dir")
	pf.String("log-level", "", "error, warn, info or debug; overrides logging.level")
	commands.StatusCmd.Flags().Bool("json", false, "print the report as JSON")
	commands.StatusCmd.Flags().Bool("check", false, "exit non-zero while tasks are pending")
	commands.PurgeCmd.Flags().String("older-than", "", "retention period, e.g. 168h; overrides migrate.failure_retention")

	_ = v.BindPFlag("config", pf.Lookup("config"))
	_ = v.BindPFlag("driver", pf.Lookup("driver"))
	_ = v.BindPFlag("dsn", pf.Lookup("dsn"))
	_ = v.BindPFlag("table", pf.Lookup("table"))
	_ = v.BindPFlag("tasks_dir", pf.Lookup("tasks-dir"))
	_ = v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = v.BindPFlag("json", commands.StatusCmd.Flags().Lookup("json"))
	_ = v.BindPFlag("check", commands.StatusCmd.Flags().Lookup("check"))
	_ = v.BindPFlag("older_than", commands.PurgeCmd.Flags().Lookup("older-than"))

	rootCmd.AddCommand(commands.UpCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.PurgeCmd)
	rootCmd.AddCommand(commands.ValidateCmd)
	rootCmd.AddCommand(commands.ServeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		exitHandler.LogFatalError(err, "command execution failed")
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/phillip/case-funding-ledger/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the case funding ledger",
		Long: `ledgerctl runs administrative ledger jobs against the configured store:
migrations, payment methods, batch imports and case total repairs.

Settings come from flags, LEDGER_* environment variables or a YAML config file.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/ledgerctl/config.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")
	root.PersistentFlags().String("store", "", "store driver (mongo, sqlite)")
	root.PersistentFlags().String("sqlite-path", "", "SQLite database file")
	root.PersistentFlags().String("as", "", "admin user id to act as (default: first admin)")

	_ = viper.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("store.driver", root.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("store.sqlite_path", root.PersistentFlags().Lookup("sqlite-path"))
	_ = viper.BindPFlag("admin", root.PersistentFlags().Lookup("as"))

	root.AddCommand(migrateCmd())
	root.AddCommand(usersCmd())
	root.AddCommand(paymentMethodsCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(batchCmd())
	root.AddCommand(casesCmd())
	return root
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("store.driver", config.DriverSQLite)
	viper.SetDefault("store.sqlite_path", "data/ledger.db")
	viper.SetDefault("mongo.db", "case_funding")
	viper.SetDefault("mongo.transactions", true)
	viper.SetDefault("ledger.aggregation", "recompute")
	viper.SetDefault("ledger.default_payment_method", "cash")
	viper.SetDefault("batch.stale_after", "15m")
	viper.SetDefault("kafka.topic", "ledger-events")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

func initConfig(_ *cobra.Command, _ []string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(fmt.Sprintf("%s/.config/ledgerctl", home))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("ledgerctl")
		viper.SetConfigType("yaml")
	}

	// LEDGER_STORE_DRIVER, LEDGER_MONGO_URI, ...
	viper.SetEnvPrefix("LEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger, err := config.NewLogger(viper.GetString("logging.level"), viper.GetString("logging.format"), os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return nil
}

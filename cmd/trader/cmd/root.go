package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rustyeddy/tradejournal/config"
	"github.com/rustyeddy/tradejournal/internal/logging"
	"github.com/rustyeddy/tradejournal/internal/observability"
	"github.com/rustyeddy/tradejournal/journal"
	"github.com/rustyeddy/tradejournal/provision"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Trading journal with MetaTrader broker connections",
	Long: `Trader keeps a journal of MetaTrader broker accounts.

It provides tools for:
  - Connecting MT4/MT5 accounts through the MetaApi provisioning service
  - Listing, refreshing and disconnecting connected accounts
  - Generating and validating configuration files

Complete documentation is available at https://github.com/rustyeddy/tradejournal`,
	SilenceUsage: true,
}

var (
	cfgFile     string
	userID      string
	metricsAddr string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("TRADER_USER"), "journal user (env TRADER_USER)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus /metrics on this address while the command runs")
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromFile(cfgFile)
	}
	cfg := config.Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// env holds what every broker subcommand needs.
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	store journal.Store
	svc   *provision.Service
	stop  context.CancelFunc
}

func (e *env) Close() {
	if e.stop != nil {
		e.stop()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	_ = e.log.Sync()
}

// setup loads config and opens the store. Commands that talk to the
// provider pass withProvider; the rest work offline without a token.
func setup(withProvider bool) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	store, err := journal.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	e := &env{cfg: cfg, log: log, store: store}

	if metricsAddr != "" {
		ctx, stop := context.WithCancel(context.Background())
		e.stop = stop
		addr, err := observability.Serve(ctx, metricsAddr)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("metrics listener: %w", err)
		}
		log.Info("serving metrics", zap.String("addr", addr.String()))
	}

	sessions := provision.StaticSession(userID)
	if !withProvider {
		e.svc = &provision.Service{Sessions: sessions, Store: store, Logger: log}
		return e, nil
	}
	svc, err := provision.NewService(cfg, store, sessions, log)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.svc = svc
	return e, nil
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rustyeddy/tradejournal/broker"
	"github.com/spf13/cobra"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Connect and manage broker accounts",
	Long: `Connect MetaTrader accounts and manage the local records of them.

Subcommands:
  connect    - Provision an MT4/MT5 account and record it
  list       - List connected accounts
  disconnect - Mark an account disconnected
  sync       - Stamp the sync time on active accounts
  refresh    - Re-read an account's state from the provider

Examples:
  trader -u alice broker connect --login 5012345 --server ICMarketsSC-Demo --broker ICMarkets --platform mt5
  trader -u alice broker list --status ACTIVE`,
}

var brokerConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Provision an MT4/MT5 account",
	Long: `Submit the account to the provisioning service and wait until it is
deployed, fails, or the attempt budget runs out. The password is taken from
--password or TRADER_BROKER_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: runBrokerConnect,
}

var brokerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected accounts",
	Args:  cobra.NoArgs,
	RunE:  runBrokerList,
}

var brokerDisconnectCmd = &cobra.Command{
	Use:   "disconnect <remote-id>",
	Short: "Mark an account disconnected",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrokerDisconnect,
}

var brokerSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Stamp the sync time on active accounts",
	Args:  cobra.NoArgs,
	RunE:  runBrokerSync,
}

var brokerRefreshCmd = &cobra.Command{
	Use:   "refresh <remote-id>",
	Short: "Re-read an account's state from the provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrokerRefresh,
}

var (
	connectCreds broker.Credentials
	listStatus   string
)

func init() {
	rootCmd.AddCommand(brokerCmd)
	brokerCmd.AddCommand(brokerConnectCmd)
	brokerCmd.AddCommand(brokerListCmd)
	brokerCmd.AddCommand(brokerDisconnectCmd)
	brokerCmd.AddCommand(brokerSyncCmd)
	brokerCmd.AddCommand(brokerRefreshCmd)

	f := brokerConnectCmd.Flags()
	f.StringVar(&connectCreds.AccountNumber, "login", "", "trading account number")
	f.StringVar(&connectCreds.Password, "password", os.Getenv("TRADER_BROKER_PASSWORD"), "trading account password (env TRADER_BROKER_PASSWORD)")
	f.StringVar(&connectCreds.BrokerName, "broker", "", "broker display name")
	f.StringVar(&connectCreds.Platform, "platform", broker.PlatformMT5, "mt4 or mt5")
	f.StringVar(&connectCreds.Server, "server", "", "broker trade server")

	brokerListCmd.Flags().StringVarP(&listStatus, "status", "s", "", "only list accounts in this status")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func runBrokerConnect(cmd *cobra.Command, args []string) error {
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := e.svc.Connect(ctx, connectCreds)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Account != nil {
		printAccount(out, *res.Account)
	}
	if !res.Success {
		return fmt.Errorf("connect failed: %s", res.Message)
	}
	fmt.Fprintf(out, "✓ %s\n", res.Message)
	return nil
}

func runBrokerList(cmd *cobra.Command, args []string) error {
	var filter *broker.Status
	if listStatus != "" {
		st, err := broker.ParseStatus(listStatus)
		if err != nil {
			return err
		}
		filter = &st
	}

	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	accts, err := e.svc.Accounts(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(accts) == 0 {
		fmt.Fprintln(out, "no broker accounts")
		return nil
	}
	fmt.Fprintf(out, "%-38s %-14s %-4s %-24s %-12s %s\n", "REMOTE ID", "LOGIN", "PLAT", "SERVER", "STATUS", "LAST SYNC")
	for _, a := range accts {
		fmt.Fprintf(out, "%-38s %-14s %-4s %-24s %-12s %s\n",
			a.RemoteID, a.AccountNumber, a.Platform, a.Server, a.Status, a.LastSyncedAt.Local().Format(time.DateTime))
	}
	return nil
}

func runBrokerDisconnect(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	acct, err := e.svc.Disconnect(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printAccount(cmd.OutOrStdout(), acct)
	return nil
}

func runBrokerSync(cmd *cobra.Command, args []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.Close()

	rep, err := e.svc.Sync(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "synced %d of %d active accounts", rep.Synced, rep.Total)
	if rep.Failed > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (%d failed)", rep.Failed)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func runBrokerRefresh(cmd *cobra.Command, args []string) error {
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	acct, err := e.svc.Refresh(ctx, args[0])
	if err != nil {
		return err
	}
	printAccount(cmd.OutOrStdout(), acct)
	return nil
}

func printAccount(w io.Writer, a broker.Account) {
	fmt.Fprintf(w, "Account:   %s\n", a.RemoteID)
	fmt.Fprintf(w, "  Login:   %s (%s)\n", a.AccountNumber, a.Platform)
	fmt.Fprintf(w, "  Broker:  %s / %s\n", a.BrokerName, a.Server)
	fmt.Fprintf(w, "  Status:  %s\n", a.Status)
	fmt.Fprintf(w, "  Synced:  %s\n", a.LastSyncedAt.Local().Format(time.DateTime))
}

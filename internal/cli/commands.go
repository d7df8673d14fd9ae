// Package cli implements the dashboard command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/config"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/logging"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/repository"
)

// Version is the released version.
const Version = "0.1.0"

type options struct {
	configPath string
	debug      bool
}

// load reads the configuration and builds the process logger.
func (o *options) load() (*config.Config, *logrus.Logger, error) {
	if o.configPath != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG", o.configPath); err != nil {
			return nil, nil, fmt.Errorf("failed to set config path: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if o.debug {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// NewRootCmd creates the root command. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Trading session orchestration core",
		Long: `dashboard tracks analysis sessions across the stock, coin and kiwoom markets,
keeps them in sync with the workflow service and gates trade proposals
behind a human decision.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	// Global flags
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	return rootCmd
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket surface and the reconciler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		market string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print persisted history entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			m := domain.MarketType(market)
			if m != "" && !m.Valid() {
				return fmt.Errorf("unknown market %q", market)
			}
			return printHistory(cmd, cfg, m, limit, asJSON)
		},
	}

	cmd.Flags().StringVar(&market, "market", "", "Only show one market (stock, coin, kiwoom)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to print (default: history_cap)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dashboard v%s\n", Version)
		},
	}
}

func printHistory(cmd *cobra.Command, cfg *config.Config, market domain.MarketType, limit int, asJSON bool) error {
	if cfg.HistoryDSN == "" {
		return fmt.Errorf("history_dsn is not configured; history is kept in memory only")
	}
	if limit <= 0 {
		limit = cfg.HistoryCap
	}

	db, err := repository.NewSQLiteStore(cfg.HistoryDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.ListHistoryEntries(context.Background(), market, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if entries == nil {
			entries = []domain.HistoryEntry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMARKET\tTICKER\tNAME\tSTATUS\tACTION\tQTY")
	for _, e := range entries {
		action, qty := "-", "-"
		if e.TradeProposal != nil {
			action = string(e.TradeProposal.Action)
			qty = e.TradeProposal.Quantity.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.MarketType, e.Ticker, e.DisplayName, e.Status, action, qty)
	}
	return tw.Flush()
}

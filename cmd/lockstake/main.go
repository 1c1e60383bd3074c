package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/moltbunker/lockstake/cmd/lockstake/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lockstake",
	Short: "Time-locked token staking client",
	Long:  "Stake tokens for a fixed lock period, track pending rewards, and claim or withdraw matured positions.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return commands.SetupLogging()
	},
	SilenceUsage: true,
}

func init() {
	// Add global persistent flags
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to config file (default: ~/.lockstake/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&commands.MockMode, "mock", false, "Run against an in-memory ledger")
	rootCmd.PersistentFlags().StringVar(&commands.LogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&commands.AssumeYes, "yes", "y", false, "Submit transactions without asking")
	rootCmd.PersistentFlags().StringVar(&commands.OutputFormat, "output", "", "Output format: \"\" (auto), \"json\"")
}

func main() {
	// Register commands
	rootCmd.AddCommand(commands.NewPositionsCmd())
	rootCmd.AddCommand(commands.NewStakeCmd())
	rootCmd.AddCommand(commands.NewClaimCmd())
	rootCmd.AddCommand(commands.NewWithdrawCmd())
	rootCmd.AddCommand(commands.NewWatchCmd())
	rootCmd.AddCommand(commands.NewWalletCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package commands

import (
	"fmt"
	"os"

	"github.com/moltbunker/lockstake/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		rpcURL  string
		chainID int64
		token   string
		stake   string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with defaults",
		Long: `Write the default configuration to the config path.

Contract addresses may be given as flags; the file is validated before it is
written unless mock mode is enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			if rpcURL != "" {
				cfg.Chain.RPCURL = rpcURL
			}
			if chainID != 0 {
				cfg.Chain.ChainID = chainID
			}
			cfg.Contracts.TokenAddress = token
			cfg.Contracts.StakingAddress = stake
			cfg.Mock.Enabled = MockMode || (token == "" && stake == "")

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := cfg.Save(path); err != nil {
				return err
			}

			Success("Config written to " + path)
			if cfg.Mock.Enabled {
				fmt.Println(Hint("Mock ledger enabled. Set contracts.token_address and contracts.staking_address and mock.enabled: false for a real chain."))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "JSON-RPC endpoint")
	cmd.Flags().Int64Var(&chainID, "chain-id", 0, "Expected chain ID")
	cmd.Flags().StringVar(&token, "token", "", "Token contract address")
	cmd.Flags().StringVar(&stake, "staking", "", "Staking contract address")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", configPath(), data)
			return nil
		},
	}
}

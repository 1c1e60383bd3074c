package commands

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/staking"
	"github.com/spf13/cobra"
)

// NewStakeCmd creates the stake command.
func NewStakeCmd() *cobra.Command {
	var (
		percent    int
		lockMonths int
		lockDays   int
	)

	cmd := &cobra.Command{
		Use:   "stake [amount]",
		Short: "Lock tokens in a new stake position",
		Long: `Deposit tokens into the staking contract for a fixed lock period.

The staking contract is approved for the amount first when the current
allowance does not cover it. Amounts are whole or fractional tokens.

Examples:
  lockstake stake 400 --lock-months 3
  lockstake stake --percent 50 --lock-days 45`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := lockPeriod(lockMonths, lockDays)
			if err != nil {
				return err
			}
			if (len(args) == 1) == (percent != 0) {
				return fmt.Errorf("%w: give either an amount or --percent", staking.ErrInvalidInput)
			}

			e, err := openEnv(cmd.Context(), signing)
			if err != nil {
				return err
			}
			defer e.Close()

			view, ok := e.session.View()
			if !ok {
				return staking.ErrAccountChanged
			}
			amount, err := stakeAmount(args, percent, view.TokenBalance)
			if err != nil {
				return err
			}

			ok, err = Confirm(
				fmt.Sprintf("Stake %s for %s?", FormatTokens(amount), formatLock(lock)),
				"The tokens stay locked until the period ends. An approve transaction is sent first if the allowance is short.")
			if err != nil {
				return err
			}
			if !ok {
				Info("Stake cancelled, nothing submitted")
				return nil
			}

			var receipt *staking.StakeReceipt
			err = WithSpinner(fmt.Sprintf("Staking %s for %s", FormatTokens(amount), formatLock(lock)), func() error {
				var err error
				receipt, err = e.session.Stake(cmd.Context(), amount, lock)
				return err
			})
			if err != nil {
				return explain(err)
			}

			Success("Stake confirmed")
			fields := [][2]string{}
			if receipt.Approval != nil {
				fields = append(fields, [2]string{"Approve Tx", receipt.Approval.Hash.Hex()})
			}
			fields = append(fields, [2]string{"Deposit Tx", receipt.Deposit.Hash.Hex()})
			if receipt.Position.Amount != nil {
				fields = append(fields,
					[2]string{"Index", fmt.Sprintf("%d", receipt.Position.Index)},
					[2]string{"Amount", FormatTokens(receipt.Position.Amount)},
					[2]string{"Matures", formatMaturity(receipt.Position.Position, time.Now())},
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), StatusBox("Position", fields))
			return nil
		},
	}

	cmd.Flags().IntVar(&percent, "percent", 0, "Stake a percentage of the token balance (25, 50, 75, 100)")
	cmd.Flags().IntVar(&lockMonths, "lock-months", 0, "Lock preset in months (1, 3, 6, 12)")
	cmd.Flags().IntVar(&lockDays, "lock-days", 0, "Lock period in days")
	cmd.MarkFlagsMutuallyExclusive("lock-months", "lock-days")
	cmd.MarkFlagsOneRequired("lock-months", "lock-days")

	return cmd
}

// lockPeriod turns the lock flags into seconds. Bounds are checked by the
// stake controller.
func lockPeriod(months, days int) (uint64, error) {
	switch {
	case months != 0:
		d, ok := staking.LockPreset(months)
		if !ok {
			return 0, fmt.Errorf("%w: no %d month preset, use 1, 3, 6 or 12", staking.ErrInvalidInput, months)
		}
		return uint64(d / time.Second), nil
	case days > 0:
		return uint64(days) * 86400, nil
	default:
		return 0, fmt.Errorf("%w: lock period must be positive", staking.ErrInvalidInput)
	}
}

func stakeAmount(args []string, percent int, balance *big.Int) (*big.Int, error) {
	if percent != 0 {
		return staking.AmountForPercent(balance, percent)
	}
	amount, err := ledger.ParseTokens(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", staking.ErrInvalidInput, err)
	}
	return amount, nil
}

// explain adds a hint to errors the user can act on.
func explain(err error) error {
	var hint string
	switch {
	case errors.Is(err, staking.ErrOperationInProgress):
		hint = "another operation on this position is still running"
	case errors.Is(err, staking.ErrNotClaimable):
		hint = "the ledger reports the position is not claimable yet"
	case errors.Is(err, staking.ErrApprovalFailed):
		hint = "the approve transaction did not confirm; nothing was deposited"
	case errors.Is(err, staking.ErrTxFailed), errors.Is(err, staking.ErrDepositFailed):
		hint = "run 'lockstake positions' to check the ledger state before retrying"
	case errors.Is(err, ledger.ErrUnavailable):
		hint = "the RPC endpoint did not answer; check chain.rpc_url"
	default:
		return err
	}
	return fmt.Errorf("%w\n%s", err, Hint(hint))
}

package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/staking"
	"github.com/spf13/cobra"
)

// NewClaimCmd creates the claim command.
func NewClaimCmd() *cobra.Command {
	return newPositionActionCmd("claim", "Claim the pending reward of a position",
		func(ctx context.Context, s *staking.Session, index uint64) (*ledger.TxResult, error) {
			return s.Claim(ctx, index)
		})
}

// NewWithdrawCmd creates the withdraw command.
func NewWithdrawCmd() *cobra.Command {
	return newPositionActionCmd("withdraw", "Withdraw a matured position with its reward",
		func(ctx context.Context, s *staking.Session, index uint64) (*ledger.TxResult, error) {
			return s.Withdraw(ctx, index)
		})
}

type positionAction func(ctx context.Context, s *staking.Session, index uint64) (*ledger.TxResult, error)

func newPositionActionCmd(use, short string, action positionAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <index>",
		Short: short,
		Long: short + `.

The ledger is asked whether the position is eligible before anything is
submitted; a position that is not eligible is rejected without a transaction.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv(cmd.Context(), signing)
			if err != nil {
				return err
			}
			defer e.Close()

			ok, err := Confirm(fmt.Sprintf("Submit %s for position %d?", use, index), "Signed with "+e.session.Account().Hex())
			if err != nil {
				return err
			}
			if !ok {
				Info(use + " cancelled, nothing submitted")
				return nil
			}

			var res *ledger.TxResult
			err = WithSpinner(fmt.Sprintf("Submitting %s for position %d", use, index), func() error {
				var err error
				res, err = action(cmd.Context(), e.session, index)
				return err
			})
			if err != nil {
				return explain(err)
			}

			Success(fmt.Sprintf("%s confirmed", use))
			fields := [][2]string{
				{"Tx", res.Hash.Hex()},
				{"Status", StatusBadge(res.Status.String())},
			}
			if view, ok := e.session.View(); ok {
				fields = append(fields, [2]string{"Balance", FormatTokens(view.TokenBalance)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), StatusBox("Position "+args[0], fields))
			return nil
		},
	}
}

func parseIndex(s string) (uint64, error) {
	index, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: position index %q", staking.ErrInvalidInput, s)
	}
	return index, nil
}

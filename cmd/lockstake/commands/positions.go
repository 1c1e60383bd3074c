package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/staking"
	"github.com/spf13/cobra"
)

// NewPositionsCmd creates the positions command.
func NewPositionsCmd() *cobra.Command {
	var skipRewards bool

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List stake positions and pending rewards",
		Long: `Load the account balance, allowance and every live stake position.

Rewards are shown after the first poll completes unless --no-rewards is set.
Status is derived from the lock period and is advisory; claim and withdraw
always ask the ledger first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), readOnly)
			if err != nil {
				return err
			}
			defer e.Close()

			if !skipRewards {
				awaitFirstPoll(e.session, e.cfg.Poller.CallTimeout+time.Second)
			}
			view, ok := e.session.View()
			if !ok {
				return staking.ErrAccountChanged
			}
			return printView(cmd.OutOrStdout(), view, time.Now())
		},
	}

	cmd.Flags().BoolVar(&skipRewards, "no-rewards", false, "Do not wait for the first reward poll")
	return cmd
}

// awaitFirstPoll waits for the session's first reward poll or timeout.
func awaitFirstPoll(s *staking.Session, timeout time.Duration) {
	view, ok := s.View()
	if !ok || len(view.Positions) == 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.Polled():
	case <-timer.C:
	}
}

type positionJSON struct {
	Index         uint64 `json:"index"`
	Amount        string `json:"amount"`
	DepositTime   uint64 `json:"deposit_time"`
	LockPeriod    uint64 `json:"lock_period"`
	MaturityTime  uint64 `json:"maturity_time"`
	PendingReward string `json:"pending_reward"`
	Status        string `json:"status"`
}

type viewJSON struct {
	Address      string         `json:"address"`
	TokenBalance string         `json:"token_balance"`
	Allowance    string         `json:"allowance"`
	TotalStaked  string         `json:"total_staked"`
	TotalReward  string         `json:"total_pending_reward"`
	Positions    []positionJSON `json:"positions"`
	Withdrawn    []positionJSON `json:"withdrawn,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func toPositionsJSON(positions []staking.StakePosition) []positionJSON {
	out := make([]positionJSON, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionJSON{
			Index:         p.Index,
			Amount:        p.Amount.String(),
			DepositTime:   p.DepositTime,
			LockPeriod:    p.LockPeriod,
			MaturityTime:  p.MaturityTime(),
			PendingReward: p.PendingReward.String(),
			Status:        p.Status.String(),
		})
	}
	return out
}

func printView(w io.Writer, view staking.AccountView, now time.Time) error {
	if jsonOutput() {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(viewJSON{
			Address:      view.Address.Hex(),
			TokenBalance: view.TokenBalance.String(),
			Allowance:    view.Allowance.String(),
			TotalStaked:  view.TotalStaked().String(),
			TotalReward:  view.TotalPendingReward().String(),
			Positions:    toPositionsJSON(view.Positions),
			Withdrawn:    toPositionsJSON(view.Withdrawn),
			UpdatedAt:    view.UpdatedAt,
		})
	}

	fmt.Fprintln(w, StatusBox("Account", [][2]string{
		{"Address", view.Address.Hex()},
		{"Balance", FormatTokens(view.TokenBalance)},
		{"Allowance", FormatTokens(view.Allowance)},
		{"Staked", FormatTokens(view.TotalStaked())},
		{"Pending Reward", FormatTokens(view.TotalPendingReward())},
	}))

	if len(view.Positions) == 0 {
		fmt.Fprintln(w, Hint("No positions. Stake with: lockstake stake <amount> --lock-months 3"))
		return nil
	}
	fmt.Fprintln(w, RenderTable(
		[]string{"Index", "Amount", "Lock", "Matures", "Reward", "Status"},
		positionRows(view.Positions, now),
	))
	return nil
}

func positionRows(positions []staking.StakePosition, now time.Time) [][]string {
	rows := make([][]string, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, []string{
			strconv.FormatUint(p.Index, 10),
			FormatTokens(p.Amount),
			formatLock(p.LockPeriod),
			formatMaturity(p.Position, now),
			FormatTokens(p.PendingReward),
			StatusBadge(p.Status.String()),
		})
	}
	return rows
}

func formatLock(seconds uint64) string {
	return strconv.FormatUint(seconds/86400, 10) + "d"
}

// formatMaturity shows the maturity date and, while locked, the time left.
func formatMaturity(p ledger.Position, now time.Time) string {
	at := time.Unix(int64(p.MaturityTime()), 0).UTC()
	date := at.Format("2006-01-02")
	left := at.Sub(now)
	if left <= 0 {
		return date
	}
	const day = 24 * time.Hour
	return fmt.Sprintf("%s (%dd left)", date, int64((left+day-1)/day))
}

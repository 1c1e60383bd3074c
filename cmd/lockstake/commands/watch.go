package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/moltbunker/lockstake/internal/logging"
	"github.com/moltbunker/lockstake/internal/staking"
	"github.com/moltbunker/lockstake/internal/util"
	"github.com/spf13/cobra"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep polling rewards and print every change",
		Long: `Connect the account and keep the reward poller running until interrupted.

Each change of the account view is printed as one line. When a metrics
address is configured, Prometheus metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, readOnly)
			if err != nil {
				return err
			}
			defer e.Close()

			if cmd.Flags().Changed("metrics-addr") {
				e.cfg.Metrics.Addr = metricsAddr
			}
			if addr := e.cfg.Metrics.Addr; addr != "" {
				util.SafeGoWithName("metrics-server", func() {
					if err := e.metrics.Serve(ctx, addr); err != nil {
						logging.Error("metrics server stopped", logging.Component("metrics"), logging.Err(err))
					}
				})
			}

			return watch(ctx, e, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	return cmd
}

// watch prints a summary line per view change until ctx is done.
func watch(ctx context.Context, e *env, w io.Writer) error {
	updates := make(chan staking.AccountView, 1)
	cancel := e.manager.Store().Subscribe(func(view staking.AccountView) {
		offerLatest(updates, view)
	})
	defer cancel()

	var last string
	if view, ok := e.session.View(); ok {
		last = summaryLine(view, time.Time{})
		fmt.Fprintln(w, summaryLine(view, time.Now()))
	}
	Info(fmt.Sprintf("Watching %s every %s, Ctrl-C to stop", FormatAddress(e.session.Account().Hex()), e.cfg.Poller.Interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case view := <-updates:
			if view.Address != e.session.Account() {
				continue
			}
			line := summaryLine(view, time.Time{})
			if line != last {
				fmt.Fprintln(w, time.Now().Format(time.TimeOnly)+"  "+line)
				last = line
			}
		}
	}
}

// offerLatest puts view into the one-slot ch without blocking, replacing
// any snapshot the reader has not taken yet.
func offerLatest(ch chan staking.AccountView, view staking.AccountView) {
	for {
		select {
		case ch <- view:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// summaryLine condenses view into one line, prefixed with at unless it is
// zero.
func summaryLine(view staking.AccountView, at time.Time) string {
	claimable := 0
	for _, p := range view.Positions {
		if p.Status == staking.Claimable {
			claimable++
		}
	}
	line := fmt.Sprintf("positions=%d claimable=%d staked=%s reward=%s balance=%s",
		len(view.Positions), claimable,
		FormatTokens(view.TotalStaked()),
		FormatTokens(view.TotalPendingReward()),
		FormatTokens(view.TokenBalance))
	if at.IsZero() {
		return line
	}
	return at.Format(time.TimeOnly) + "  " + line
}

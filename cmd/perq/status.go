package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"perq/native/ledger"
	"perq/native/rates"
	"perq/observability/logging"
)

// withEngine opens the engine for a one-shot command. Logs below warn are
// dropped so stdout stays machine readable. Interrupts cancel ctx.
func (c *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine) error) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	level := logging.ParseLevel(cfg.Log.Level)
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	logger := slog.New(logging.NewHandler(cmd.ErrOrStderr(), level))

	eng, err := openEngine(cfg, logger, nil)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	runErr := fn(ctx, eng)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Close(closeCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

type statusView struct {
	Totals      ledger.Totals   `json:"totals"`
	Cards       int             `json:"cards"`
	ActiveStake int             `json:"activeStakes"`
	Pool        *ledger.Pool    `json:"pool,omitempty"`
	PerqPlus    bool            `json:"perqPlus"`
	OptimalCard *ledger.Account `json:"optimalCard,omitempty"`
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show point totals and the derived buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *engine) error {
				view := statusView{
					Totals:   eng.ledger.Totals(),
					Cards:    len(eng.ledger.Accounts(ledger.KindCard)),
					PerqPlus: eng.ledger.Profile().PerqPlus,
				}
				for _, s := range eng.ledger.Accounts(ledger.KindStake) {
					if s.Stake != nil && s.Stake.Status == ledger.StakeActive {
						view.ActiveStake++
					}
				}
				if pool, ok := eng.ledger.Pool(); ok {
					view.Pool = &pool
				}
				if card, ok := eng.ledger.OptimalCard(); ok {
					view.OptimalCard = &card
				}
				return c.render(view, func(w io.Writer) {
					t := view.Totals
					row(w, "Total points", rates.FormatInteger(t.TotalPoints))
					row(w, "Total value", rates.FormatCurrency(t.TotalValue))
					row(w, "Staked", rates.FormatInteger(t.Staked))
					row(w, "Pool contributed", rates.FormatInteger(t.PoolContributed))
					row(w, "Available", rates.FormatInteger(t.Available))
					row(w, "Cards", view.Cards)
					row(w, "Active stakes", view.ActiveStake)
					if view.Pool != nil {
						row(w, "Family pool", view.Pool.Name+" ("+rates.FormatInteger(view.Pool.TotalPoints)+" pts)")
					}
					if view.OptimalCard != nil {
						row(w, "Best card", view.OptimalCard.Label())
					}
					row(w, "Perq Plus", view.PerqPlus)
					row(w, "As of", time.Now().Format(time.DateTime))
				})
			})
		},
	}
}

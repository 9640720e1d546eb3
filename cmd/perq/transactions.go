package main

import (
	"context"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"perq/native/common"
	"perq/native/rates"
	"perq/native/simulator"
)

// execute runs op through the simulator and prints the settled transaction.
// Rejected and cancelled transactions are printed before the error returns.
func (c *cli) execute(cmd *cobra.Command, op simulator.Operation) error {
	return c.withEngine(cmd, func(ctx context.Context, eng *engine) error {
		tx, err := eng.sim.Execute(ctx, op)
		if tx.ID != "" {
			if perr := c.printTransaction(tx); perr != nil && err == nil {
				return perr
			}
		}
		return err
	})
}

func (c *cli) printTransaction(tx simulator.Transaction) error {
	return c.render(tx, func(w io.Writer) {
		row(w, "Transaction", tx.ID)
		row(w, "Kind", tx.Kind)
		row(w, "State", tx.State)
		if tx.Reason != "" {
			row(w, "Reason", tx.Reason)
		}
		if tx.Amount > 0 {
			row(w, "Amount", rates.FormatInteger(tx.Amount))
		}
		if r := tx.Receipt; r != nil {
			row(w, "Result", r.Message)
			for _, m := range r.Debits {
				row(w, "Debit", m.CardID, rates.FormatInteger(m.Points))
			}
			for _, m := range r.Credits {
				row(w, "Credit", m.CardID, rates.FormatInteger(m.Points))
			}
			if r.Earnings > 0 {
				row(w, "Earnings", rates.FormatInteger(r.Earnings))
			}
			if r.EndsAt != nil {
				row(w, "Unlocks", r.EndsAt.Format("2006-01-02"))
			}
			if r.CurrencyValue != nil {
				row(w, "Value", rates.FormatCurrency(*r.CurrencyValue))
			}
		}
	})
}

func parsePoints(raw string) (int64, error) {
	points, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, common.Invalid("points", common.CodeInvalidFormat, "points must be an integer, got %q", raw)
	}
	return points, nil
}

func (c *cli) redeemCmd() *cobra.Command {
	var op simulator.Redeem
	cmd := &cobra.Command{
		Use:   "redeem",
		Short: "Spend available points, optionally on a catalog reward",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, op)
		},
	}
	cmd.Flags().Int64Var(&op.Points, "points", 0, "points to redeem")
	cmd.Flags().StringVar(&op.CardID, "card", "", "debit this card only")
	cmd.Flags().StringVar(&op.RedemptionID, "reward", "", "catalog quick redemption id")
	return cmd
}

func (c *cli) stakeCmd() *cobra.Command {
	var op simulator.Stake
	cmd := &cobra.Command{
		Use:   "stake <option-id>",
		Short: "Lock points in a staking plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op.OptionID = args[0]
			return c.execute(cmd, op)
		},
	}
	cmd.Flags().Int64Var(&op.Points, "points", 0, "principal to lock")
	cmd.Flags().StringVar(&op.CardID, "card", "", "fund from this card only")
	return cmd
}

func (c *cli) unstakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unstake <stake-id>",
		Short: "Complete a matured stake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, simulator.Unstake{StakeID: args[0]})
		},
	}
}

func (c *cli) contributeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contribute <points>",
		Short: "Move available points into the family pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := parsePoints(args[0])
			if err != nil {
				return err
			}
			return c.execute(cmd, simulator.Contribute{Points: points})
		},
	}
}

func (c *cli) convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <asset> <points>",
		Short: "Exchange points for a crypto asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := parsePoints(args[1])
			if err != nil {
				return err
			}
			return c.execute(cmd, simulator.Convert{Asset: args[0], Points: points})
		},
	}
}

func (c *cli) claimCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "claim [achievement-id]",
		Short: "Claim an unlocked achievement reward",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all {
				if len(args) == 0 {
					return common.Invalid("achievementId", common.CodeMissingField, "achievement id or --all is required")
				}
				return c.execute(cmd, simulator.Claim{AchievementID: args[0]})
			}
			return c.withEngine(cmd, func(ctx context.Context, eng *engine) error {
				claimed, err := eng.premium.ClaimAll(ctx)
				if claimed == nil {
					claimed = []simulator.Transaction{}
				}
				if perr := c.render(claimed, func(w io.Writer) {
					row(w, "TRANSACTION", "RESULT")
					for _, tx := range claimed {
						msg := string(tx.State)
						if tx.Receipt != nil {
							msg = tx.Receipt.Message
						}
						row(w, tx.ID, msg)
					}
				}); perr != nil && err == nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "claim every unlocked achievement")
	return cmd
}

func (c *cli) tradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trade <listing-id>",
		Short: "Fill an open marketplace listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, simulator.Trade{ListingID: args[0]})
		},
	}
}

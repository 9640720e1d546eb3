package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"perq/native/alerts"
	"perq/native/rates"
)

func (c *cli) alertsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Report expiring card points and stake progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *engine) error {
				scanner := eng.scanner
				if days > 0 {
					scanner = alerts.NewScanner(eng.ledger, alerts.WithUrgentDays(days))
				}
				report := scanner.Scan()
				return c.render(report, func(w io.Writer) {
					row(w, "CARD", "BANK", "EXPIRING", "VALUE", "DAYS", "URGENT")
					for _, a := range report.Alerts {
						row(w, a.CardName, a.BankName, rates.FormatInteger(a.PointsExpiring),
							rates.FormatCurrency(a.Value), a.DaysRemaining, a.Urgent)
					}
					if len(report.Stakes) > 0 {
						row(w)
						row(w, "STAKE", "PLAN", "POINTS", "EARNINGS", "DAYS", "PROGRESS")
						for _, s := range report.Stakes {
							row(w, s.StakeID, s.Plan, rates.FormatInteger(s.Points),
								rates.FormatInteger(s.Earnings), s.DaysRemaining, fmt.Sprintf("%.0f%%", s.Progress))
						}
					}
					row(w)
					row(w, "Expiring soon", rates.FormatInteger(report.ExpiringSoon))
					row(w, "Urgent", report.Urgent)
					row(w, "Matured stakes", report.Matured)
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "urgency window in days (default from config)")
	return cmd
}

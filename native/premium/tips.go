package premium

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"perq/config"
	"perq/native/alerts"
	"perq/native/rates"
)

// Tip priorities and categories.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	CategorySavings    = "savings"
	CategoryEarning    = "earning"
	CategoryRedemption = "redemption"
	CategoryProtection = "protection"
)

// Tip is one optimizer recommendation.
type Tip struct {
	ID               string          `json:"id"`
	Priority         string          `json:"priority"`
	Category         string          `json:"category"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	PotentialSavings decimal.Decimal `json:"potentialSavings"`
	Action           string          `json:"action"`
}

// Tips derives recommendations from the current ledger.
func (s *Service) Tips() []Tip {
	var tips []Tip
	rate := s.ledger.Rate()
	report := s.scanner.Scan()
	totals := s.ledger.Totals()
	profile := s.ledger.Profile()

	// Lapsed points can no longer be saved.
	upcoming := slices.IndexFunc(report.Alerts, func(a alerts.ExpiryAlert) bool { return a.DaysRemaining >= 0 })
	if upcoming >= 0 {
		alert := report.Alerts[upcoming]
		priority := PriorityMedium
		if alert.Urgent {
			priority = PriorityHigh
		}
		tips = append(tips, Tip{
			ID:       "expiring-" + alert.CardID,
			Priority: priority,
			Category: CategorySavings,
			Title:    fmt.Sprintf("Redeem %s points before expiry", rates.FormatInteger(alert.PointsExpiring)),
			Description: fmt.Sprintf("Your %s points expire in %d days. Redeem now to save %s.",
				alert.CardName, alert.DaysRemaining, rates.FormatCurrency(alert.Value)),
			PotentialSavings: alert.Value,
			Action:           "Redeem Now",
		})
	}

	// Best-yielding option the available balance qualifies for.
	options := slices.Clone(s.catalog.StakeOptions)
	slices.SortFunc(options, func(a, b config.StakeOption) int { return b.APY().Cmp(a.APY()) })
	for _, option := range options {
		if totals.Available < option.MinimumPoints {
			continue
		}
		lock := totals.Available / 1000 * 1000
		earnings := rates.StakingProjection(lock, option.APY())
		tips = append(tips, Tip{
			ID:       "stake-" + option.ID,
			Priority: PriorityHigh,
			Category: CategoryEarning,
			Title:    fmt.Sprintf("Stake points to earn %s%% APY", option.APY().String()),
			Description: fmt.Sprintf("Lock %s points for %d days and earn %s bonus points.",
				rates.FormatInteger(lock), option.DurationDays, rates.FormatInteger(earnings)),
			PotentialSavings: rates.PointsToCurrency(earnings, rate),
			Action:           "Start Staking",
		})
		break
	}

	if profile.Insurance == nil && report.ExpiringSoon > 0 && len(s.catalog.InsurancePlans) > 0 {
		cheapest := s.catalog.InsurancePlans[0]
		for _, plan := range s.catalog.InsurancePlans[1:] {
			if plan.MonthlyFee < cheapest.MonthlyFee {
				cheapest = plan
			}
		}
		tips = append(tips, Tip{
			ID:       "insurance",
			Priority: PriorityMedium,
			Category: CategoryProtection,
			Title:    fmt.Sprintf("Protect %s expiring points", rates.FormatInteger(report.ExpiringSoon)),
			Description: fmt.Sprintf("Get insurance for just %s/month and never lose points again.",
				rates.FormatCurrency(decimal.NewFromFloat(cheapest.MonthlyFee))),
			PotentialSavings: rates.PointsToCurrency(report.ExpiringSoon, rate),
			Action:           "Get Insurance",
		})
	}

	if _, ok := s.ledger.Pool(); !ok && totals.TotalPoints > 0 {
		multiplier := s.catalog.Pool.Multiplier()
		bonus := rates.PoolBonus(totals.TotalPoints, multiplier)
		uplift := multiplier.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
		tips = append(tips, Tip{
			ID:       "pool",
			Priority: PriorityMedium,
			Category: CategoryRedemption,
			Title:    "Pool family points for better value",
			Description: fmt.Sprintf("Combine %s points for premium redemptions at %s%% higher value.",
				rates.FormatInteger(totals.TotalPoints), uplift.String()),
			PotentialSavings: rates.PointsToCurrency(bonus, rate).Floor(),
			Action:           "Create Pool",
		})
	}
	return tips
}

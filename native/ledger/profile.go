package ledger

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"perq/config"
	"perq/native/rates"
)

// Pool is the family pool. TotalPoints tracks the sum of member
// contributions and moves with every contribution or removal.
type Pool struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	InviteCode          string          `json:"inviteCode,omitempty"`
	BonusMultiplier     decimal.Decimal `json:"bonusMultiplier"`
	TotalPoints         int64           `json:"totalPoints"`
	MonthlyContribution int64           `json:"monthlyContribution,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// Value is the pooled points after the bonus multiplier.
func (p Pool) Value() int64 { return rates.PoolValue(p.TotalPoints, p.BonusMultiplier) }

// Bonus is the value the multiplier adds.
func (p Pool) Bonus() int64 { return rates.PoolBonus(p.TotalPoints, p.BonusMultiplier) }

// Insurance is an active points-protection subscription.
type Insurance struct {
	PlanID          string          `json:"planId"`
	PlanName        string          `json:"planName"`
	CoveragePercent int             `json:"coveragePercent"`
	MonthlyFee      decimal.Decimal `json:"monthlyFee"`
	ProtectedPoints int64           `json:"protectedPoints"`
	SubscribedAt    time.Time       `json:"subscribedAt"`
}

// Profile holds the per-user flags persisted next to the accounts.
type Profile struct {
	PerqPlus            bool       `json:"perqPlus"`
	ClaimedAchievements []string   `json:"claimedAchievements"`
	Insurance           *Insurance `json:"insurance,omitempty"`
}

// Claimed reports whether the achievement reward was already collected.
func (p Profile) Claimed(id string) bool {
	return slices.Contains(p.ClaimedAchievements, id)
}

func (p Profile) clone() Profile {
	out := p
	out.ClaimedAchievements = append([]string{}, p.ClaimedAchievements...)
	if p.Insurance != nil {
		ins := *p.Insurance
		out.Insurance = &ins
	}
	return out
}

func insuranceEqual(a, b *Insurance) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.PlanID == b.PlanID &&
		a.PlanName == b.PlanName &&
		a.CoveragePercent == b.CoveragePercent &&
		a.MonthlyFee.Equal(b.MonthlyFee) &&
		a.ProtectedPoints == b.ProtectedPoints &&
		a.SubscribedAt.Equal(b.SubscribedAt)
}

// Stats are the counters achievements are measured against.
type Stats struct {
	StakesCreated   int64 `json:"stakesCreated"`
	TotalPoints     int64 `json:"totalPoints"`
	PointsProtected int64 `json:"pointsProtected"`
	PoolsCreated    int64 `json:"poolsCreated"`
}

// Value returns the counter named by an achievement metric, or zero for an
// unknown metric.
func (s Stats) Value(metric string) int64 {
	switch metric {
	case config.MetricStakesCreated:
		return s.StakesCreated
	case config.MetricTotalPoints:
		return s.TotalPoints
	case config.MetricPointsProtected:
		return s.PointsProtected
	case config.MetricPoolsCreated:
		return s.PoolsCreated
	}
	return 0
}

func (s *state) stats() Stats {
	var out Stats
	out.StakesCreated = int64(len(s.accounts[KindStake]))
	for _, card := range s.accounts[KindCard] {
		out.TotalPoints += card.Points
	}
	if s.profile.Insurance != nil {
		out.PointsProtected = s.profile.Insurance.ProtectedPoints
	}
	if s.pool != nil {
		out.PoolsCreated = 1
	}
	return out
}

// Package premium implements the gamified and optimisation features that sit
// on top of the ledger: achievements, points insurance, the Perq Plus
// membership, optimizer tips and instant liquidity quotes.
package premium

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"perq/config"
	"perq/native/alerts"
	"perq/native/common"
	"perq/native/ledger"
	"perq/native/rates"
	"perq/native/simulator"
)

// ErrNoInsurance is returned when cancelling without an active plan.
var ErrNoInsurance = errors.New("premium: no active insurance plan")

// Executor runs simulated operations; *simulator.Simulator satisfies it.
type Executor interface {
	Execute(ctx context.Context, op simulator.Operation) (simulator.Transaction, error)
}

// Service exposes the premium features for one ledger.
type Service struct {
	ledger   *ledger.Ledger
	catalog  *config.Catalog
	executor Executor
	scanner  *alerts.Scanner
	logger   *slog.Logger
	nowFn    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithExecutor enables claiming through the transaction simulator.
func WithExecutor(executor Executor) Option {
	return func(s *Service) { s.executor = executor }
}

// WithScanner supplies the expiry scanner used by the tips. A default
// scanner over the ledger is used otherwise.
func WithScanner(scanner *alerts.Scanner) Option {
	return func(s *Service) {
		if scanner != nil {
			s.scanner = scanner
		}
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// New builds the premium service.
func New(l *ledger.Ledger, catalog *config.Catalog, opts ...Option) *Service {
	s := &Service{ledger: l, catalog: catalog, logger: slog.Default(), nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.scanner == nil {
		s.scanner = alerts.NewScanner(l, alerts.WithClock(s.nowFn))
	}
	return s
}

// AchievementStatus is an achievement together with the user's progress.
type AchievementStatus struct {
	config.Achievement
	Progress int64 `json:"progress"`
	Unlocked bool  `json:"unlocked"`
	Claimed  bool  `json:"claimed"`
}

// Achievements reports progress on every catalog achievement.
func (s *Service) Achievements() []AchievementStatus {
	stats := s.ledger.Stats()
	profile := s.ledger.Profile()
	out := make([]AchievementStatus, 0, len(s.catalog.Achievements))
	for _, a := range s.catalog.Achievements {
		progress := min(stats.Value(a.Metric), a.Target)
		out = append(out, AchievementStatus{
			Achievement: a,
			Progress:    progress,
			Unlocked:    progress >= a.Target,
			Claimed:     profile.Claimed(a.ID),
		})
	}
	return out
}

// Claim collects one achievement reward.
func (s *Service) Claim(ctx context.Context, id string) (simulator.Transaction, error) {
	if s.executor == nil {
		return simulator.Transaction{}, fmt.Errorf("premium: claiming requires a transaction executor")
	}
	return s.executor.Execute(ctx, simulator.Claim{AchievementID: id})
}

// ClaimAll claims every unlocked, unclaimed achievement in catalog order and
// returns the committed transactions. It stops at the first failure.
func (s *Service) ClaimAll(ctx context.Context) ([]simulator.Transaction, error) {
	var claimed []simulator.Transaction
	for _, status := range s.Achievements() {
		if !status.Unlocked || status.Claimed {
			continue
		}
		tx, err := s.Claim(ctx, status.ID)
		if err != nil {
			return claimed, fmt.Errorf("premium: claim %s: %w", status.ID, err)
		}
		claimed = append(claimed, tx)
	}
	return claimed, nil
}

// Subscribe activates an insurance plan, replacing any current one.
// Protected points equal the plan's maximum coverage.
func (s *Service) Subscribe(planID string) (ledger.Insurance, error) {
	plan, err := s.catalog.InsurancePlan(planID)
	if err != nil {
		return ledger.Insurance{}, common.Invalid("planId", common.CodeNotFound, "unknown insurance plan %q", planID)
	}
	insurance := ledger.Insurance{
		PlanID:          plan.ID,
		PlanName:        plan.Name,
		CoveragePercent: plan.CoveragePercent,
		MonthlyFee:      decimal.NewFromFloat(plan.MonthlyFee),
		ProtectedPoints: plan.MaxCoverage,
		SubscribedAt:    s.nowFn().UTC(),
	}
	err = s.ledger.UpdateProfile(func(p *ledger.Profile) error {
		p.Insurance = &insurance
		return nil
	})
	if err != nil {
		return ledger.Insurance{}, err
	}
	s.logger.Info("insurance subscribed", "plan", plan.ID, "protected_points", plan.MaxCoverage)
	return insurance, nil
}

// CancelInsurance drops the active plan.
func (s *Service) CancelInsurance() error {
	err := s.ledger.UpdateProfile(func(p *ledger.Profile) error {
		if p.Insurance == nil {
			return ErrNoInsurance
		}
		p.Insurance = nil
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("insurance cancelled")
	return nil
}

// SetMembership toggles the Perq Plus flag.
func (s *Service) SetMembership(member bool) error {
	return s.ledger.SetPerqPlus(member)
}

// Liquidity quotes an instant cash payout for points, which must not exceed
// the available balance.
func (s *Service) Liquidity(points int64) (rates.LiquidityOffer, error) {
	if err := common.CheckAmount("points", points, s.ledger.Available()); err != nil {
		return rates.LiquidityOffer{}, err
	}
	terms := s.catalog.Liquidity
	return rates.Liquidity(points, decimal.NewFromFloat(terms.RatePerPoint), decimal.NewFromFloat(terms.ProcessingFee)), nil
}

// Overview gathers every premium view in one document.
type Overview struct {
	Achievements []AchievementStatus  `json:"achievements"`
	Tips         []Tip                `json:"tips"`
	Insurance    *ledger.Insurance    `json:"insurance,omitempty"`
	PerqPlus     bool                 `json:"perqPlus"`
	OptimalCard  *ledger.Account      `json:"optimalCard,omitempty"`
	Liquidity    rates.LiquidityOffer `json:"liquidity"`
}

// Overview returns the premium dashboard. The liquidity quote covers the
// whole available balance.
func (s *Service) Overview() Overview {
	profile := s.ledger.Profile()
	out := Overview{
		Achievements: s.Achievements(),
		Tips:         s.Tips(),
		Insurance:    profile.Insurance,
		PerqPlus:     profile.PerqPlus,
	}
	if card, ok := s.ledger.OptimalCard(); ok {
		out.OptimalCard = &card
	}
	terms := s.catalog.Liquidity
	out.Liquidity = rates.Liquidity(s.ledger.Available(),
		decimal.NewFromFloat(terms.RatePerPoint), decimal.NewFromFloat(terms.ProcessingFee))
	return out
}

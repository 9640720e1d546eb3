package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Achievement metrics understood by the premium module.
const (
	MetricStakesCreated   = "stakes_created"
	MetricTotalPoints     = "total_points"
	MetricPointsProtected = "points_protected"
	MetricPoolsCreated    = "pools_created"
)

// ErrUnknownCatalogEntry is returned by the lookup helpers.
var ErrUnknownCatalogEntry = errors.New("catalog: unknown entry")

// Catalog holds the immutable reference data that parameterizes transactions.
type Catalog struct {
	StakeOptions     []StakeOption     `yaml:"stake_options" json:"stakeOptions"`
	InsurancePlans   []InsurancePlan   `yaml:"insurance_plans" json:"insurancePlans"`
	Achievements     []Achievement     `yaml:"achievements" json:"achievements"`
	CryptoAssets     []CryptoAsset     `yaml:"crypto_assets" json:"cryptoAssets"`
	QuickRedemptions []QuickRedemption `yaml:"quick_redemptions" json:"quickRedemptions"`
	Pool             PoolDefaults      `yaml:"pool" json:"pool"`
	Liquidity        LiquidityTerms    `yaml:"liquidity" json:"liquidity"`
}

type StakeOption struct {
	ID            string  `yaml:"id" json:"id"`
	Name          string  `yaml:"name" json:"name"`
	DurationDays  int     `yaml:"duration_days" json:"durationDays"`
	APYPercent    float64 `yaml:"apy_percent" json:"apyPercent"`
	MinimumPoints int64   `yaml:"minimum_points" json:"minimumPoints"`
	Badge         string  `yaml:"badge" json:"badge"`
}

// APY returns the option's yearly yield in percent as a decimal.
func (o StakeOption) APY() decimal.Decimal { return decimal.NewFromFloat(o.APYPercent) }

type InsurancePlan struct {
	ID              string  `yaml:"id" json:"id"`
	Name            string  `yaml:"name" json:"name"`
	CoveragePercent int     `yaml:"coverage_percent" json:"coveragePercent"`
	MonthlyFee      float64 `yaml:"monthly_fee" json:"monthlyFee"`
	MaxCoverage     int64   `yaml:"max_coverage" json:"maxCoverage"`
}

type Achievement struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Metric      string `yaml:"metric" json:"metric"`
	Target      int64  `yaml:"target" json:"target"`
	Reward      int64  `yaml:"reward" json:"reward"`
}

type CryptoAsset struct {
	ID            string  `yaml:"id" json:"id"`
	Symbol        string  `yaml:"symbol" json:"symbol"`
	Name          string  `yaml:"name" json:"name"`
	Price         float64 `yaml:"price" json:"price"`
	PointsPerUnit float64 `yaml:"points_per_unit" json:"pointsPerUnit"`
	MinimumPoints int64   `yaml:"minimum_points" json:"minimumPoints"`
	Change24h     float64 `yaml:"change_24h" json:"change24h"`
}

// UnitPrice returns the currency price of one unit.
func (a CryptoAsset) UnitPrice() decimal.Decimal { return decimal.NewFromFloat(a.Price) }

// PointsPerCrypto returns how many points buy one unit.
func (a CryptoAsset) PointsPerCrypto() decimal.Decimal { return decimal.NewFromFloat(a.PointsPerUnit) }

type QuickRedemption struct {
	ID     string `yaml:"id" json:"id"`
	Title  string `yaml:"title" json:"title"`
	Points int64  `yaml:"points" json:"points"`
}

type PoolDefaults struct {
	BonusMultiplier float64 `yaml:"bonus_multiplier" json:"bonusMultiplier"`
}

// Multiplier returns the bonus multiplier as a decimal.
func (p PoolDefaults) Multiplier() decimal.Decimal { return decimal.NewFromFloat(p.BonusMultiplier) }

type LiquidityTerms struct {
	RatePerPoint  float64 `yaml:"rate_per_point" json:"ratePerPoint"`
	ProcessingFee float64 `yaml:"processing_fee" json:"processingFee"`
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a YAML catalog from path, or the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes, defaults and validates a YAML catalog document.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	cat.applyDefaults()
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) applyDefaults() {
	if c.Pool.BonusMultiplier == 0 {
		c.Pool.BonusMultiplier = 1.25
	}
	if c.Liquidity.RatePerPoint == 0 {
		c.Liquidity.RatePerPoint = 0.23
	}
	if c.Liquidity.ProcessingFee == 0 {
		c.Liquidity.ProcessingFee = 50
	}
}

func (c *Catalog) validate() error {
	seen := map[string]struct{}{}
	for _, opt := range c.StakeOptions {
		if opt.ID == "" {
			return errors.New("catalog: stake option without id")
		}
		if _, dup := seen["stake:"+opt.ID]; dup {
			return fmt.Errorf("catalog: duplicate stake option %q", opt.ID)
		}
		seen["stake:"+opt.ID] = struct{}{}
		if opt.DurationDays <= 0 {
			return fmt.Errorf("catalog: stake option %q needs a positive duration", opt.ID)
		}
		if opt.APYPercent < 0 || opt.MinimumPoints < 0 {
			return fmt.Errorf("catalog: stake option %q has negative terms", opt.ID)
		}
	}
	for _, asset := range c.CryptoAssets {
		if asset.ID == "" || asset.Symbol == "" {
			return errors.New("catalog: crypto asset without id or symbol")
		}
		if asset.PointsPerUnit <= 0 || asset.Price < 0 {
			return fmt.Errorf("catalog: crypto asset %q has invalid pricing", asset.ID)
		}
	}
	for _, a := range c.Achievements {
		switch a.Metric {
		case MetricStakesCreated, MetricTotalPoints, MetricPointsProtected, MetricPoolsCreated:
		default:
			return fmt.Errorf("catalog: achievement %q has unknown metric %q", a.ID, a.Metric)
		}
		if a.Target <= 0 || a.Reward < 0 {
			return fmt.Errorf("catalog: achievement %q has invalid target or reward", a.ID)
		}
	}
	for _, plan := range c.InsurancePlans {
		if plan.ID == "" || plan.MaxCoverage < 0 {
			return fmt.Errorf("catalog: invalid insurance plan %q", plan.ID)
		}
	}
	if c.Pool.BonusMultiplier < 1 {
		return fmt.Errorf("catalog: pool bonus multiplier must be at least 1")
	}
	return nil
}

// StakeOption looks up a staking option by id.
func (c *Catalog) StakeOption(id string) (StakeOption, error) {
	for _, opt := range c.StakeOptions {
		if opt.ID == id {
			return opt, nil
		}
	}
	return StakeOption{}, fmt.Errorf("%w: stake option %q", ErrUnknownCatalogEntry, id)
}

// Asset looks up a crypto asset by id or symbol, ignoring case.
func (c *Catalog) Asset(idOrSymbol string) (CryptoAsset, error) {
	for _, asset := range c.CryptoAssets {
		if strings.EqualFold(asset.ID, idOrSymbol) || strings.EqualFold(asset.Symbol, idOrSymbol) {
			return asset, nil
		}
	}
	return CryptoAsset{}, fmt.Errorf("%w: crypto asset %q", ErrUnknownCatalogEntry, idOrSymbol)
}

// InsurancePlan looks up an insurance plan by id.
func (c *Catalog) InsurancePlan(id string) (InsurancePlan, error) {
	for _, plan := range c.InsurancePlans {
		if plan.ID == id {
			return plan, nil
		}
	}
	return InsurancePlan{}, fmt.Errorf("%w: insurance plan %q", ErrUnknownCatalogEntry, id)
}

// Achievement looks up an achievement by id.
func (c *Catalog) Achievement(id string) (Achievement, error) {
	for _, a := range c.Achievements {
		if a.ID == id {
			return a, nil
		}
	}
	return Achievement{}, fmt.Errorf("%w: achievement %q", ErrUnknownCatalogEntry, id)
}

// QuickRedemption looks up a quick redemption by id.
func (c *Catalog) QuickRedemption(id string) (QuickRedemption, error) {
	for _, r := range c.QuickRedemptions {
		if r.ID == id {
			return r, nil
		}
	}
	return QuickRedemption{}, fmt.Errorf("%w: quick redemption %q", ErrUnknownCatalogEntry, id)
}

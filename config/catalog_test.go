package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	cat, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	if len(cat.StakeOptions) != 3 || len(cat.CryptoAssets) != 5 || len(cat.InsurancePlans) != 3 || len(cat.Achievements) != 4 {
		t.Fatalf("unexpected catalog sizes: %+v", cat)
	}
	standard, err := cat.StakeOption("standard")
	if err != nil {
		t.Fatalf("standard option: %v", err)
	}
	if standard.DurationDays != 90 || standard.MinimumPoints != 25000 || standard.APY().String() != "12" {
		t.Fatalf("unexpected standard option %+v", standard)
	}
	btc, err := cat.Asset("BTC")
	if err != nil {
		t.Fatalf("btc lookup: %v", err)
	}
	if btc.PointsPerUnit != 96142 || btc.MinimumPoints != 5000 {
		t.Fatalf("unexpected btc terms %+v", btc)
	}
	if cat.Pool.Multiplier().String() != "1.25" {
		t.Fatalf("unexpected pool multiplier %s", cat.Pool.Multiplier())
	}
	if _, err := cat.InsurancePlan("nope"); !errors.Is(err, ErrUnknownCatalogEntry) {
		t.Fatalf("expected unknown entry error, got %v", err)
	}
}

func TestParseCatalogAppliesDefaults(t *testing.T) {
	cat, err := ParseCatalog([]byte("stake_options: []\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cat.Pool.BonusMultiplier != 1.25 || cat.Liquidity.RatePerPoint != 0.23 || cat.Liquidity.ProcessingFee != 50 {
		t.Fatalf("defaults not applied: %+v", cat)
	}
}

func TestParseCatalogRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"duration": "stake_options:\n  - id: x\n    duration_days: 0\n",
		"metric":   "achievements:\n  - id: a\n    metric: vibes\n    target: 1\n",
		"asset":    "crypto_assets:\n  - id: doge\n    symbol: DOGE\n    points_per_unit: 0\n",
		"pool":     "pool:\n  bonus_multiplier: 0.5\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := "quick_redemptions:\n  - id: coffee\n    title: Coffee\n    points: 300\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	r, err := cat.QuickRedemption("coffee")
	if err != nil || r.Points != 300 {
		t.Fatalf("unexpected redemption %+v %v", r, err)
	}
}

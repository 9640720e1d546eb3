package premium

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perq/config"
	"perq/native/common"
	"perq/native/ledger"
	"perq/native/simulator"
	"perq/storage"
	"perq/storage/localstore"
)

var testBase = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, ledgerOpts ...ledger.Option) (*Service, *ledger.Ledger) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return testBase }
	store := localstore.New(storage.NewMemDB(), localstore.WithLogger(quiet))
	opts := append([]ledger.Option{ledger.WithClock(now), ledger.WithLogger(quiet)}, ledgerOpts...)
	l := ledger.Open(store, opts...)
	t.Cleanup(l.Close)
	catalog, err := config.DefaultCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	sim := simulator.New(l, catalog,
		simulator.WithLatency(0, 0),
		simulator.WithClock(now),
		simulator.WithLogger(quiet))
	return New(l, catalog, WithExecutor(sim), WithClock(now), WithLogger(quiet)), l
}

func statusByID(t *testing.T, svc *Service, id string) AchievementStatus {
	t.Helper()
	for _, status := range svc.Achievements() {
		if status.ID == id {
			return status
		}
	}
	t.Fatalf("achievement %s missing", id)
	return AchievementStatus{}
}

func TestAchievementProgressFromLedger(t *testing.T) {
	svc, _ := newTestService(t)

	if got := statusByID(t, svc, "points-master"); !got.Unlocked || got.Progress != 100000 || got.Claimed {
		t.Fatalf("unexpected points-master %+v", got)
	}
	if got := statusByID(t, svc, "first-stake"); got.Unlocked || got.Progress != 0 {
		t.Fatalf("unexpected first-stake %+v", got)
	}
	if got := statusByID(t, svc, "family-first"); !got.Unlocked {
		t.Fatalf("seeded pool should unlock family-first")
	}
}

func TestClaimAllCreditsUnlockedRewards(t *testing.T) {
	svc, l := newTestService(t)
	before := l.TotalPoints()

	claimed, err := svc.ClaimAll(context.Background())
	if err != nil {
		t.Fatalf("claim all: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(claimed))
	}
	if l.TotalPoints() != before+3000 {
		t.Fatalf("expected +3000 points, got %d", l.TotalPoints()-before)
	}
	if !statusByID(t, svc, "points-master").Claimed {
		t.Fatalf("claim not recorded")
	}

	again, err := svc.ClaimAll(context.Background())
	if err != nil || len(again) != 0 {
		t.Fatalf("second claim-all should be empty, got %d %v", len(again), err)
	}
	_, err = svc.Claim(context.Background(), "points-master")
	if verr, ok := common.AsValidation(err); !ok || verr.Code != common.CodeAlreadySettled {
		t.Fatalf("expected already_settled, got %v", err)
	}
}

func TestInsuranceLifecycle(t *testing.T) {
	svc, l := newTestService(t)

	insurance, err := svc.Subscribe("shield")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if insurance.ProtectedPoints != 100000 || !insurance.MonthlyFee.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("unexpected insurance %+v", insurance)
	}
	if got := l.Profile().Insurance; got == nil || got.PlanID != "shield" {
		t.Fatalf("insurance not stored: %+v", got)
	}
	if !statusByID(t, svc, "saver-supreme").Unlocked {
		t.Fatalf("protected points should unlock saver-supreme")
	}

	if err := svc.CancelInsurance(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if l.Profile().Insurance != nil {
		t.Fatalf("insurance still active")
	}
	if err := svc.CancelInsurance(); !errors.Is(err, ErrNoInsurance) {
		t.Fatalf("expected ErrNoInsurance, got %v", err)
	}
	if _, err := svc.Subscribe("platinum"); err == nil {
		t.Fatalf("expected unknown plan error")
	}
}

func TestMembershipFlag(t *testing.T) {
	svc, l := newTestService(t)
	if err := svc.SetMembership(true); err != nil {
		t.Fatalf("set membership: %v", err)
	}
	if !l.Profile().PerqPlus || !svc.Overview().PerqPlus {
		t.Fatalf("membership not stored")
	}
}

func TestLiquidityQuote(t *testing.T) {
	svc, l := newTestService(t)

	offer, err := svc.Liquidity(10000)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if !offer.CashAmount.Equal(decimal.NewFromInt(2300)) || !offer.NetAmount.Equal(decimal.NewFromInt(2250)) {
		t.Fatalf("unexpected offer %+v", offer)
	}
	small, err := svc.Liquidity(100)
	if err != nil || !small.NetAmount.IsZero() {
		t.Fatalf("net amount must not go negative: %+v %v", small, err)
	}
	_, err = svc.Liquidity(l.Available() + 1)
	if verr, ok := common.AsValidation(err); !ok || verr.Code != common.CodeInsufficientPoints {
		t.Fatalf("expected insufficient_points, got %v", err)
	}
}

func TestTipsFollowLedgerState(t *testing.T) {
	svc, _ := newTestService(t)

	tips := svc.Tips()
	if len(tips) != 3 {
		t.Fatalf("expected 3 tips, got %d: %+v", len(tips), tips)
	}
	if tips[0].ID != "expiring-3" || tips[0].Priority != PriorityHigh {
		t.Fatalf("most urgent expiry should lead, got %+v", tips[0])
	}
	if tips[1].ID != "stake-premium" || tips[1].Category != CategoryEarning {
		t.Fatalf("expected premium staking tip, got %+v", tips[1])
	}
	if tips[2].ID != "insurance" {
		t.Fatalf("expected insurance tip, got %+v", tips[2])
	}

	if _, err := svc.Subscribe("basic"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for _, tip := range svc.Tips() {
		if tip.ID == "insurance" {
			t.Fatalf("insured users should not get the insurance tip")
		}
	}
}

func TestExpiryTipSkipsLapsedPoints(t *testing.T) {
	svc, l := newTestService(t, ledger.WithoutSeed())
	lapsed := testBase.AddDate(0, 0, -2)
	upcoming := testBase.AddDate(0, 0, 10)
	for _, card := range []ledger.Account{
		{ID: "old", Kind: ledger.KindCard, Points: 4000, Card: &ledger.Card{
			BankName: "SBI Card", CardType: "Elite", HolderName: "RAHUL", Number: "4111111111111111",
			Expiry: "12/30", PointsExpireAt: &lapsed,
		}},
		{ID: "new", Kind: ledger.KindCard, Points: 8000, Card: &ledger.Card{
			BankName: "HDFC Bank", CardType: "Regalia", HolderName: "RAHUL", Number: "5500000000000004",
			Expiry: "12/30", PointsExpireAt: &upcoming,
		}},
	} {
		if _, err := l.AddAccount(card); err != nil {
			t.Fatalf("add card %s: %v", card.ID, err)
		}
	}
	for _, tip := range svc.Tips() {
		if tip.ID == "expiring-old" {
			t.Fatalf("lapsed points should not produce a tip: %+v", tip)
		}
		if tip.ID == "expiring-new" {
			return
		}
	}
	t.Fatalf("expected a tip for the upcoming expiry")
}

func TestPoolTipWithoutPool(t *testing.T) {
	svc, l := newTestService(t, ledger.WithoutSeed())
	if _, err := l.AddAccount(ledger.Account{
		ID: "c1", Kind: ledger.KindCard, Points: 95000,
		Card: &ledger.Card{BankName: "HDFC Bank", CardType: "Regalia", HolderName: "RAHUL", Number: "4111111111111111", Expiry: "12/30"},
	}); err != nil {
		t.Fatalf("add card: %v", err)
	}
	var pool *Tip
	for _, tip := range svc.Tips() {
		if tip.ID == "pool" {
			tip := tip
			pool = &tip
		}
	}
	if pool == nil {
		t.Fatalf("expected pool tip")
	}
	if !pool.PotentialSavings.Equal(decimal.NewFromInt(5937)) {
		t.Fatalf("unexpected pool savings %s", pool.PotentialSavings)
	}
}

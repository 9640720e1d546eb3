package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"perq/config"
	"perq/core/events"
	"perq/native/common"
	"perq/native/ledger"
	"perq/storage"
	"perq/storage/localstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(base time.Time) *testClock {
	return &testClock{now: base}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []Transaction
}

func (j *memoryJournal) Record(_ context.Context, tx Transaction) error {
	j.mu.Lock()
	j.entries = append(j.entries, tx)
	j.mu.Unlock()
	return nil
}

func (j *memoryJournal) Entries() []Transaction {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Transaction(nil), j.entries...)
}

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

type fixture struct {
	sim     *Simulator
	ledger  *ledger.Ledger
	clock   *testClock
	events  *events.Buffer
	journal *memoryJournal
}

var testBase = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func counter(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// newFixture builds a ledger holding a single card with points, or the seed
// portfolio when points is negative.
func newFixture(t *testing.T, points int64, opts ...Option) *fixture {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := newTestClock(testBase)
	store := localstore.New(storage.NewMemDB(), localstore.WithLogger(quiet))
	ledgerOpts := []ledger.Option{
		ledger.WithClock(clock.Now),
		ledger.WithLogger(quiet),
		ledger.WithIDGenerator(counter("acct")),
	}
	if points >= 0 {
		ledgerOpts = append(ledgerOpts, ledger.WithoutSeed())
	}
	l := ledger.Open(store, ledgerOpts...)
	t.Cleanup(l.Close)
	if points >= 0 {
		_, err := l.AddAccount(ledger.Account{
			ID:     "c1",
			Kind:   ledger.KindCard,
			Points: points,
			Card:   &ledger.Card{BankName: "HDFC Bank", CardType: "Regalia", HolderName: "RAHUL", Number: "4111111111111111", Expiry: "12/30"},
		})
		if err != nil {
			t.Fatalf("seed card: %v", err)
		}
	}
	catalog, err := config.DefaultCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	buf := &events.Buffer{}
	journal := &memoryJournal{}
	base := []Option{
		WithLatency(0, 0),
		WithClock(clock.Now),
		WithIDGenerator(counter("tx")),
		WithEmitter(buf),
		WithJournal(journal),
		WithLogger(quiet),
	}
	sim := New(l, catalog, append(base, opts...)...)
	return &fixture{sim: sim, ledger: l, clock: clock, events: buf, journal: journal}
}

func requireCode(t *testing.T, err error, code common.Code) *common.ValidationError {
	t.Helper()
	verr, ok := common.AsValidation(err)
	if !ok {
		t.Fatalf("expected validation error %s, got %v", code, err)
	}
	if verr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, verr.Code, verr.Message)
	}
	return verr
}

func TestStakeCommits(t *testing.T) {
	f := newFixture(t, 100000)

	tx, err := f.sim.Execute(context.Background(), Stake{OptionID: "standard", Points: 25000})
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if tx.State != StateCommitted || tx.Receipt == nil {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if tx.Receipt.Earnings != 3000 || tx.Receipt.TotalReturn != 28000 {
		t.Fatalf("unexpected earnings %+v", tx.Receipt)
	}
	if !tx.Receipt.EndsAt.Equal(testBase.Add(90 * 24 * time.Hour)) {
		t.Fatalf("unexpected end %s", tx.Receipt.EndsAt)
	}
	if f.ledger.Available() != 75000 || f.ledger.TotalPoints() != 100000 || f.ledger.Staked() != 25000 {
		t.Fatalf("unexpected buckets %+v", f.ledger.Totals())
	}
	stake, ok := f.ledger.Account(tx.Receipt.StakeID)
	if !ok || stake.Stake.Status != ledger.StakeActive || !stake.Stake.APY.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("unexpected stake %+v", stake)
	}
	if !f.events.Seen(events.TypeTransactionCommitted) {
		t.Fatalf("expected committed event")
	}
	if entries := f.journal.Entries(); len(entries) != 1 || entries[0].State != StateCommitted {
		t.Fatalf("unexpected journal %+v", entries)
	}
}

func TestStakeBelowMinimum(t *testing.T) {
	f := newFixture(t, 100000)
	_, err := f.sim.Execute(context.Background(), Stake{OptionID: "premium", Points: 25000})
	verr := requireCode(t, err, common.CodeBelowMinimum)
	if verr.Field != "points" {
		t.Fatalf("unexpected field %s", verr.Field)
	}
	if f.ledger.Staked() != 0 {
		t.Fatalf("rejected stake mutated the ledger")
	}
}

func TestRedeemBeyondAvailableIsRejected(t *testing.T) {
	f := newFixture(t, 3000)
	before := f.ledger.Snapshot()

	tx, err := f.sim.Execute(context.Background(), Redeem{Points: 5000})
	verr := requireCode(t, err, common.CodeInsufficientPoints)
	if verr.Field != "points" {
		t.Fatalf("unexpected field %s", verr.Field)
	}
	if tx.State != StateRejected || tx.Reason != string(common.CodeInsufficientPoints) || tx.Error == nil {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if after := f.ledger.Snapshot(); after.Digest != before.Digest {
		t.Fatalf("rejected redeem changed the ledger")
	}
	if !f.events.Seen(events.TypeTransactionRejected) {
		t.Fatalf("expected rejected event")
	}
	if entries := f.journal.Entries(); len(entries) != 1 || entries[0].State != StateRejected {
		t.Fatalf("rejections must be journaled: %+v", entries)
	}
}

func TestRedeemQuickReward(t *testing.T) {
	f := newFixture(t, 3000)
	tx, err := f.sim.Execute(context.Background(), Redeem{RedemptionID: "cashback"})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if tx.Amount != 1000 || f.ledger.TotalPoints() != 2000 {
		t.Fatalf("unexpected redeem result amount=%d total=%d", tx.Amount, f.ledger.TotalPoints())
	}
	if !tx.Receipt.CurrencyValue.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("unexpected value %s", tx.Receipt.CurrencyValue)
	}
	_, err = f.sim.Execute(context.Background(), Redeem{RedemptionID: "flight-booking", Points: 10})
	requireCode(t, err, common.CodeInvalidAmount)
}

func TestCancelLeavesLedgerUntouched(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 10000, WithLatency(time.Hour, 0))
	before := f.ledger.Snapshot()

	h, err := f.sim.Submit(context.Background(), Redeem{CardID: "c1", Points: 1000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := h.Transaction().State; got != StatePending {
		t.Fatalf("expected pending, got %s", got)
	}
	h.Cancel()
	h.Cancel()
	tx, err := h.Wait()
	if !errors.Is(err, ErrCancelled) || tx.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s %v", tx.State, err)
	}
	if after := f.ledger.Snapshot(); after.Digest != before.Digest {
		t.Fatalf("cancelled transaction changed the ledger")
	}
	if f.sim.InFlight() != 0 {
		t.Fatalf("in-flight entry leaked")
	}
	if !f.events.Seen(events.TypeTransactionCancelled) {
		t.Fatalf("expected cancelled event")
	}
}

func TestContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 10000, WithLatency(time.Hour, 0))

	ctx, cancel := context.WithCancel(context.Background())
	h, err := f.sim.Submit(ctx, Convert{Asset: "usdt", Points: 1000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()
	tx, err := h.Wait()
	if !errors.Is(err, context.Canceled) || tx.State != StateCancelled || tx.Reason != ReasonCancelled {
		t.Fatalf("expected context cancellation, got %+v %v", tx, err)
	}
	if f.ledger.TotalPoints() != 10000 {
		t.Fatalf("cancelled conversion debited points")
	}
}

func TestDuplicateSubmissionDoesNotDoubleDebit(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 10000, WithLatency(50*time.Millisecond, 0))

	first, err := f.sim.Submit(context.Background(), Redeem{CardID: "c1", Points: 4000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := f.sim.Submit(context.Background(), Redeem{CardID: "c1", Points: 4000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-second.Done():
	default:
		t.Fatalf("duplicate should settle immediately")
	}
	_, err = second.Wait()
	requireCode(t, err, common.CodeDuplicateSubmission)

	if _, err := first.Wait(); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if f.ledger.TotalPoints() != 6000 {
		t.Fatalf("expected a single debit, total=%d", f.ledger.TotalPoints())
	}
}

func TestDuplicateStakeIsKeyedOnCard(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 60000, WithLatency(50*time.Millisecond, 0))
	ctx := context.Background()

	first, err := f.sim.Submit(ctx, Stake{OptionID: "standard", Points: 25000, CardID: "c1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	other, err := f.sim.Submit(ctx, Stake{OptionID: "flexible", Points: 10000, CardID: "c1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = other.Wait()
	requireCode(t, err, common.CodeDuplicateSubmission)

	redeem, err := f.sim.Submit(ctx, Redeem{CardID: "c1", Points: 1000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := first.Wait(); err != nil {
		t.Fatalf("first stake: %v", err)
	}
	if _, err := redeem.Wait(); err != nil {
		t.Fatalf("redeem alongside stake: %v", err)
	}
	if f.ledger.Staked() != 25000 || f.ledger.Available() != 34000 {
		t.Fatalf("unexpected balances staked=%d available=%d", f.ledger.Staked(), f.ledger.Available())
	}
}

func TestUnstakeLifecycle(t *testing.T) {
	f := newFixture(t, 100000)

	staked, err := f.sim.Execute(context.Background(), Stake{OptionID: "standard", Points: 25000, CardID: "c1"})
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	stakeID := staked.Receipt.StakeID

	_, err = f.sim.Execute(context.Background(), Unstake{StakeID: stakeID})
	requireCode(t, err, common.CodeEarlyWithdrawal)

	f.clock.Advance(90 * 24 * time.Hour)
	tx, err := f.sim.Execute(context.Background(), Unstake{StakeID: stakeID})
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if tx.Receipt.Earnings != 3000 || tx.Receipt.Credits[0].CardID != "c1" {
		t.Fatalf("unexpected receipt %+v", tx.Receipt)
	}
	if f.ledger.TotalPoints() != 103000 || f.ledger.Staked() != 0 || f.ledger.Available() != 103000 {
		t.Fatalf("unexpected buckets %+v", f.ledger.Totals())
	}

	_, err = f.sim.Execute(context.Background(), Unstake{StakeID: stakeID})
	requireCode(t, err, common.CodeAlreadySettled)
	_, err = f.sim.Execute(context.Background(), Unstake{StakeID: "missing"})
	requireCode(t, err, common.CodeNotFound)
}

func TestContributeToPool(t *testing.T) {
	f := newFixture(t, -1)
	reserved := f.ledger.Reserved()

	tx, err := f.sim.Execute(context.Background(), Contribute{Points: 5000})
	if err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if tx.Receipt.PoolTotal != 102030 {
		t.Fatalf("unexpected pool total %d", tx.Receipt.PoolTotal)
	}
	if f.ledger.Reserved() != reserved+5000 {
		t.Fatalf("contribution not reserved")
	}
	pool, _ := f.ledger.Pool()
	if pool.TotalPoints != 102030 {
		t.Fatalf("pool not persisted in ledger: %d", pool.TotalPoints)
	}

	empty := newFixture(t, 10000)
	_, err = empty.sim.Execute(context.Background(), Contribute{Points: 100})
	requireCode(t, err, common.CodeNotFound)
}

func TestConvertToCrypto(t *testing.T) {
	f := newFixture(t, 100000)

	tx, err := f.sim.Execute(context.Background(), Convert{Asset: "USDT", Points: 1000})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !tx.Receipt.CryptoAmount.Equal(decimal.NewFromInt(500)) || !tx.Receipt.CurrencyValue.Equal(decimal.NewFromInt(41500)) {
		t.Fatalf("unexpected conversion %s %s", tx.Receipt.CryptoAmount, tx.Receipt.CurrencyValue)
	}
	if f.ledger.TotalPoints() != 99000 {
		t.Fatalf("conversion not debited")
	}
	_, err = f.sim.Execute(context.Background(), Convert{Asset: "btc", Points: 100})
	requireCode(t, err, common.CodeBelowMinimum)
	_, err = f.sim.Execute(context.Background(), Convert{Asset: "doge", Points: 10000})
	requireCode(t, err, common.CodeNotFound)
}

func TestClaimAchievement(t *testing.T) {
	f := newFixture(t, 100000)

	_, err := f.sim.Execute(context.Background(), Claim{AchievementID: "first-stake"})
	requireCode(t, err, common.CodeNotEligible)

	if _, err := f.sim.Execute(context.Background(), Stake{OptionID: "flexible", Points: 10000}); err != nil {
		t.Fatalf("stake: %v", err)
	}
	tx, err := f.sim.Execute(context.Background(), Claim{AchievementID: "first-stake"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if tx.Amount != 500 || f.ledger.TotalPoints() != 100500 {
		t.Fatalf("reward not credited: amount=%d total=%d", tx.Amount, f.ledger.TotalPoints())
	}
	if !f.ledger.Profile().Claimed("first-stake") {
		t.Fatalf("claim not recorded")
	}
	_, err = f.sim.Execute(context.Background(), Claim{AchievementID: "first-stake"})
	requireCode(t, err, common.CodeAlreadySettled)
}

func TestTradeListings(t *testing.T) {
	f := newFixture(t, -1)
	total := f.ledger.TotalPoints()

	tx, err := f.sim.Execute(context.Background(), Trade{ListingID: "m1"})
	if err != nil {
		t.Fatalf("trade sell listing: %v", err)
	}
	if tx.Receipt.Credits[0].CardID != "4" || !tx.Receipt.CurrencyValue.Equal(decimal.NewFromInt(5500)) {
		t.Fatalf("unexpected receipt %+v", tx.Receipt)
	}
	if f.ledger.TotalPoints() != total+25000 {
		t.Fatalf("sell listing did not credit points")
	}
	listing, _ := f.ledger.Account("m1")
	if listing.Listing.Status != ledger.ListingFilled || listing.Listing.FilledAt == nil {
		t.Fatalf("listing not filled %+v", listing.Listing)
	}
	_, err = f.sim.Execute(context.Background(), Trade{ListingID: "m1"})
	requireCode(t, err, common.CodeAlreadySettled)

	if _, err := f.sim.Execute(context.Background(), Trade{ListingID: "m2"}); err != nil {
		t.Fatalf("trade buy listing: %v", err)
	}
	if f.ledger.TotalPoints() != total+25000-50000 {
		t.Fatalf("buy listing did not debit points")
	}
}

func TestPausedModuleRejects(t *testing.T) {
	f := newFixture(t, 100000, WithPauses(pauses{common.ModuleStaking: true}))

	tx, err := f.sim.Execute(context.Background(), Stake{OptionID: "standard", Points: 25000})
	if !errors.Is(err, common.ErrModulePaused) || tx.Reason != ReasonPaused {
		t.Fatalf("expected paused rejection, got %+v %v", tx, err)
	}
	if _, err := f.sim.Execute(context.Background(), Redeem{Points: 100}); err != nil {
		t.Fatalf("other modules stay open: %v", err)
	}
}

func TestShutdownCancelsPending(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, 10000, WithLatency(time.Hour, time.Minute))

	h, err := f.sim.Submit(context.Background(), Redeem{Points: 100})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.sim.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if tx, _ := h.Wait(); tx.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s", tx.State)
	}
	if _, err := f.sim.Submit(context.Background(), Redeem{Points: 100}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	op, err := Decode("Stake", OperationFields{OptionID: "standard", Points: 25000})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stake, ok := op.(Stake); !ok || stake.Points != 25000 {
		t.Fatalf("unexpected op %#v", op)
	}
	_, err = Decode("mint", OperationFields{})
	requireCode(t, err, common.CodeInvalidFormat)
}

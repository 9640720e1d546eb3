package ledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perq/core/events"
	"perq/native/common"
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

var testBase = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, db storage.Database) *localstore.Store {
	t.Helper()
	if db == nil {
		db = storage.NewMemDB()
	}
	return localstore.New(db, localstore.WithLogger(quietLogger()))
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func openTestLedger(t *testing.T, store *localstore.Store, opts ...Option) (*Ledger, *testClock, *events.Buffer) {
	t.Helper()
	clock := newTestClock(testBase)
	buf := &events.Buffer{}
	base := []Option{
		WithClock(clock.Now),
		WithEmitter(buf),
		WithLogger(quietLogger()),
		WithIDGenerator(sequentialIDs()),
	}
	l := Open(store, append(base, opts...)...)
	t.Cleanup(l.Close)
	return l, clock, buf
}

func validCard(points int64) CardInput {
	return CardInput{
		BankName:   "HDFC Bank",
		CardType:   "Infinia",
		HolderName: "rahul sharma",
		Number:     "4111 1111 1111 1111",
		Expiry:     "12/30",
		CVV:        "123",
		Points:     points,
	}
}

func TestSeedTotals(t *testing.T) {
	l, _, _ := openTestLedger(t, newTestStore(t, nil))

	totals := l.Totals()
	if totals.TotalPoints != 193260 {
		t.Fatalf("unexpected total points %d", totals.TotalPoints)
	}
	if !totals.TotalValue.Equal(decimal.NewFromInt(48315)) {
		t.Fatalf("unexpected total value %s", totals.TotalValue)
	}
	if totals.Reserved != 45680 || totals.Available != 193260-45680 {
		t.Fatalf("unexpected buckets %+v", totals)
	}
	pool, ok := l.Pool()
	if !ok {
		t.Fatalf("expected seeded pool")
	}
	if pool.TotalPoints != 97030 || pool.Value() != 121287 || pool.Bonus() != 24257 {
		t.Fatalf("unexpected pool figures %+v value=%d bonus=%d", pool, pool.Value(), pool.Bonus())
	}
	if got := len(l.Accounts(KindListing)); got != 4 {
		t.Fatalf("expected 4 listings, got %d", got)
	}
	card, ok := l.OptimalCard()
	if !ok || card.ID != "4" {
		t.Fatalf("expected Axis Magnus as optimal card, got %+v", card)
	}
}

func TestWithoutSeedStartsEmpty(t *testing.T) {
	l, _, _ := openTestLedger(t, newTestStore(t, nil), WithoutSeed())
	if len(l.Accounts("")) != 0 {
		t.Fatalf("expected no accounts")
	}
	if _, ok := l.Pool(); ok {
		t.Fatalf("expected no pool")
	}
	if l.Available() != 0 {
		t.Fatalf("expected zero available")
	}
}

func TestAddCardRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	l, _, buf := openTestLedger(t, newTestStore(t, db), WithoutSeed())

	card, err := l.AddCard(validCard(12000))
	if err != nil {
		t.Fatalf("add card: %v", err)
	}
	if card.ID != "id-1" || !card.CreatedAt.Equal(testBase) {
		t.Fatalf("unexpected identity %s %s", card.ID, card.CreatedAt)
	}
	if card.Card.Number != "4111111111111111" || card.Card.HolderName != "RAHUL SHARMA" || card.Card.Brand != BrandVisa {
		t.Fatalf("card not normalised: %+v", card.Card)
	}
	if !buf.Seen(events.TypeAccountAdded) {
		t.Fatalf("expected account added event")
	}

	reopened, _, _ := openTestLedger(t, newTestStore(t, db), WithoutSeed())
	want := l.Snapshot()
	got := reopened.Snapshot()
	if got.Digest != want.Digest {
		t.Fatalf("snapshot digest changed across reload: %s != %s", got.Digest, want.Digest)
	}
	if reopened.TotalPoints() != 12000 {
		t.Fatalf("unexpected reloaded total %d", reopened.TotalPoints())
	}
}

func TestUpdateAccountMissingIDIsNoop(t *testing.T) {
	store := newTestStore(t, nil)
	l, _, buf := openTestLedger(t, store, WithoutSeed())

	if err := l.UpdateAccount("nope", SetPoints(10)); err != nil {
		t.Fatalf("update missing: %v", err)
	}
	if err := l.RemoveAccount("nope"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("expected no events, got %d", len(buf.Events()))
	}
	if _, ok := store.Raw(KeyCards); ok {
		t.Fatalf("no-op must not write")
	}
}

func TestUpdateAccountRejectsInvalidPatches(t *testing.T) {
	l, _, _ := openTestLedger(t, newTestStore(t, nil))

	err := l.UpdateAccount("1", func(a *Account) error {
		a.Kind = KindStake
		return nil
	})
	if !errors.Is(err, ErrKindChange) {
		t.Fatalf("expected kind change error, got %v", err)
	}
	if err := l.UpdateAccount("1", AddPoints(-1_000_000)); !errors.Is(err, ErrNegativePoints) {
		t.Fatalf("expected negative points error, got %v", err)
	}
	card, _ := l.Account("1")
	if card.Points != 45680 {
		t.Fatalf("rejected patch leaked: %d", card.Points)
	}
}

func TestMergeJSONKeepsUntouchedFields(t *testing.T) {
	l, _, _ := openTestLedger(t, newTestStore(t, nil))

	if err := l.UpdateAccount("2", MergeJSON([]byte(`{"points":40000,"card":{"color":"#ffffff"}}`))); err != nil {
		t.Fatalf("merge: %v", err)
	}
	card, _ := l.Account("2")
	if card.Points != 40000 || card.Card.Color != "#ffffff" || card.Card.BankName != "ICICI Bank" {
		t.Fatalf("unexpected merge result %+v %+v", card, card.Card)
	}
	err := l.UpdateAccount("2", MergeJSON([]byte(`{"cvv":"123"}`)))
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected unknown field to be refused, got %v", err)
	}
}

func TestApplyRollsBackOnError(t *testing.T) {
	l, _, buf := openTestLedger(t, newTestStore(t, nil))
	before := l.Snapshot()

	boom := errors.New("boom")
	err := l.Apply(func(tx *Tx) error {
		if _, err := tx.Debit(5000, ""); err != nil {
			return err
		}
		if _, err := tx.Add(Account{Kind: KindStake, Points: 5000, Stake: &Stake{Plan: "x", Status: StakeActive}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if after := l.Snapshot(); after.Digest != before.Digest {
		t.Fatalf("rolled back batch changed the ledger")
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("rolled back batch emitted events")
	}
}

func TestDebitSpreadsAcrossLargestCards(t *testing.T) {
	l, _, _ := openTestLedger(t, newTestStore(t, nil))

	var moves []Movement
	err := l.Apply(func(tx *Tx) error {
		var err error
		moves, err = tx.Debit(70000, "")
		return err
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if len(moves) != 2 || moves[0].CardID != "4" || moves[0].Points != 67890 || moves[1].CardID != "1" || moves[1].Points != 2110 {
		t.Fatalf("unexpected movements %+v", moves)
	}
	if l.TotalPoints() != 193260-70000 {
		t.Fatalf("unexpected total %d", l.TotalPoints())
	}

	err = l.Apply(func(tx *Tx) error {
		_, err := tx.Debit(20000, "3")
		return err
	})
	verr, ok := common.AsValidation(err)
	if !ok || verr.Code != common.CodeInsufficientPoints {
		t.Fatalf("expected insufficient points on single card, got %v", err)
	}
}

func TestListingsArePrepended(t *testing.T) {
	l, _, _ := openTestLedger(t, newTestStore(t, nil))

	listing, err := l.AddListing(ListingInput{
		Side:       SideSell,
		PointsType: "Citi Rewards",
		Points:     10000,
		UnitPrice:  decimal.RequireFromString("0.21"),
	})
	if err != nil {
		t.Fatalf("add listing: %v", err)
	}
	if !listing.Listing.Total.Equal(decimal.NewFromInt(2100)) {
		t.Fatalf("unexpected total %s", listing.Listing.Total)
	}
	if listing.Listing.AuthorID != CurrentUserID || !listing.Listing.Verified || listing.Listing.Rating != 5.0 {
		t.Fatalf("unexpected author fields %+v", listing.Listing)
	}
	listings := l.Accounts(KindListing)
	if listings[0].ID != listing.ID || len(listings) != 5 {
		t.Fatalf("new listing should come first")
	}

	_, err = l.AddListing(ListingInput{Side: "swap", PointsType: "x", Points: 1, UnitPrice: decimal.NewFromInt(1)})
	verr, ok := common.AsValidation(err)
	if !ok || verr.Field != "side" {
		t.Fatalf("expected side validation error, got %v", err)
	}

	if err := l.RemoveListing(listing.ID); err != nil {
		t.Fatalf("remove listing: %v", err)
	}
	if err := l.RemoveListing("1"); err != nil {
		t.Fatalf("remove non listing: %v", err)
	}
	if _, ok := l.Account("1"); !ok {
		t.Fatalf("RemoveListing must not delete cards")
	}
}

func TestPoolLifecycle(t *testing.T) {
	l, _, _ := openTestLedger(t, newTestStore(t, nil))

	if _, err := l.CreatePool("Second", MemberInput{}); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected pool exists, got %v", err)
	}
	if err := l.RemoveMember("member-1"); !errors.Is(err, ErrSelfRemoval) {
		t.Fatalf("expected self removal error, got %v", err)
	}
	if err := l.RemoveMember("member-2"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	pool, _ := l.Pool()
	if pool.TotalPoints != 97030-32450 {
		t.Fatalf("pool total not reduced: %d", pool.TotalPoints)
	}
	code, err := l.InviteCode("friend@example.com")
	if err != nil || len(code) != 8 {
		t.Fatalf("unexpected invite code %q %v", code, err)
	}
	if pool, _ := l.Pool(); pool.InviteCode != code {
		t.Fatalf("invite code not stored")
	}

	if err := l.LeavePool(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok := l.Pool(); ok {
		t.Fatalf("pool should be gone")
	}
	if l.Reserved() != 0 {
		t.Fatalf("leaving should release contributions, reserved=%d", l.Reserved())
	}
	if _, err := l.InviteCode("a@b.c"); !errors.Is(err, ErrNoPool) {
		t.Fatalf("expected no pool, got %v", err)
	}

	created, err := l.CreatePool("  Weekend Trips ", MemberInput{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Name != "Weekend Trips" || created.TotalPoints != 0 || !created.BonusMultiplier.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("unexpected pool %+v", created)
	}
	members := l.Accounts(KindPoolMembership)
	if len(members) != 1 || !members[0].Member.Self || members[0].Member.Role != RoleAdmin {
		t.Fatalf("unexpected members %+v", members)
	}
}

func TestProfileWritesOnlyChangedKeys(t *testing.T) {
	store := newTestStore(t, nil)
	l, _, buf := openTestLedger(t, store)

	if err := l.SetPerqPlus(true); err != nil {
		t.Fatalf("set perq plus: %v", err)
	}
	if !l.Profile().PerqPlus {
		t.Fatalf("flag not set")
	}
	if raw, ok := store.Raw(KeyPerqPlus); !ok || string(raw) != "true" {
		t.Fatalf("flag not persisted: %s", raw)
	}
	if _, ok := store.Raw(KeyInsurance); ok {
		t.Fatalf("untouched profile keys must not be written")
	}
	if !buf.Seen(events.TypeProfileUpdated) {
		t.Fatalf("expected profile event")
	}
}

func TestWritesFromOtherTabReplaceCollection(t *testing.T) {
	store := newTestStore(t, nil)
	writer, _, _ := openTestLedger(t, store, WithoutSeed())
	reader, _, readerEvents := openTestLedger(t, store, WithoutSeed())

	if _, err := writer.AddCard(validCard(5000)); err != nil {
		t.Fatalf("add card: %v", err)
	}
	if reader.TotalPoints() != 5000 {
		t.Fatalf("reader did not reload, total=%d", reader.TotalPoints())
	}
	if !readerEvents.Seen(events.TypeLedgerReloaded) {
		t.Fatalf("expected reload event on the other tab")
	}

	// Last write wins: the reader's stale view overwrites the collection.
	if err := reader.UpdateAccount("id-1", SetPoints(7000)); err != nil {
		t.Fatalf("reader update: %v", err)
	}
	if writer.TotalPoints() != 7000 {
		t.Fatalf("writer did not pick up reader write, total=%d", writer.TotalPoints())
	}
}

func TestCorruptCollectionFallsBackToSeed(t *testing.T) {
	db := storage.NewMemDB()
	if err := db.Put([]byte(KeyCards), []byte("{not json")); err != nil {
		t.Fatalf("put: %v", err)
	}
	l, _, _ := openTestLedger(t, newTestStore(t, db))
	if len(l.Accounts(KindCard)) != 5 {
		t.Fatalf("expected seed cards after corrupt read")
	}
}

// Package ledger owns the in-memory portfolio of points-holding accounts
// (cards, stakes, pool memberships and marketplace listings) together with
// the family pool and the user profile. Every mutation runs as a batch over
// a copy of the state and is persisted through a localstore.Store.
package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perq/core/events"
	"perq/native/common"
	"perq/native/rates"
	"perq/observability"
	"perq/storage/localstore"
)

// Persistence keys.
const (
	KeyCards        = "cards"
	KeyListings     = "marketplace_listings"
	KeyStakes       = "stakes"
	KeyMemberships  = "pool_memberships"
	KeyPool         = "family_pool"
	KeyPerqPlus     = "perq_plus_member"
	KeyAchievements = "achievements_claimed"
	KeyInsurance    = "insurance_subscription"
)

// Keys lists every key the ledger reads and writes.
var Keys = []string{KeyCards, KeyListings, KeyStakes, KeyMemberships, KeyPool, KeyPerqPlus, KeyAchievements, KeyInsurance}

// KeyFor returns the collection key holding accounts of kind.
func KeyFor(kind Kind) string {
	switch kind {
	case KindCard:
		return KeyCards
	case KindStake:
		return KeyStakes
	case KindPoolMembership:
		return KeyMemberships
	case KindListing:
		return KeyListings
	}
	return ""
}

func kindForKey(key string) (Kind, bool) {
	for _, kind := range Kinds {
		if KeyFor(kind) == key {
			return kind, true
		}
	}
	return "", false
}

// Current user identity stamped on listings created through this ledger.
const (
	CurrentUserID   = "u_current_user"
	CurrentUserName = "You"
)

// Totals are the derived point buckets.
type Totals struct {
	TotalPoints     int64           `json:"totalPoints"`
	TotalValue      decimal.Decimal `json:"totalValue"`
	Staked          int64           `json:"staked"`
	PoolContributed int64           `json:"poolContributed"`
	Reserved        int64           `json:"reserved"`
	Available       int64           `json:"available"`
}

type state struct {
	accounts map[Kind][]Account
	pool     *Pool
	profile  Profile
}

func (s *state) clone() *state {
	out := &state{accounts: make(map[Kind][]Account, len(s.accounts)), profile: s.profile.clone()}
	for kind, list := range s.accounts {
		out.accounts[kind] = cloneAccounts(list)
	}
	if s.pool != nil {
		pool := *s.pool
		out.pool = &pool
	}
	return out
}

// shallow copies the collection map so one entry can be swapped without
// touching slices referenced by pending writes.
func (s *state) shallow() *state {
	out := &state{accounts: make(map[Kind][]Account, len(s.accounts)), pool: s.pool, profile: s.profile}
	for kind, list := range s.accounts {
		out.accounts[kind] = list
	}
	return out
}

// value returns the document persisted under key.
func (s *state) value(key string) any {
	if kind, ok := kindForKey(key); ok {
		list := s.accounts[kind]
		if list == nil {
			list = []Account{}
		}
		return list
	}
	switch key {
	case KeyPool:
		return s.pool
	case KeyPerqPlus:
		return s.profile.PerqPlus
	case KeyAchievements:
		claimed := s.profile.ClaimedAchievements
		if claimed == nil {
			claimed = []string{}
		}
		return claimed
	case KeyInsurance:
		return s.profile.Insurance
	}
	return nil
}

func (s *state) find(id string) (Kind, int, bool) {
	for _, kind := range Kinds {
		for i := range s.accounts[kind] {
			if s.accounts[kind][i].ID == id {
				return kind, i, true
			}
		}
	}
	return "", -1, false
}

func (s *state) totals(rate decimal.Decimal) Totals {
	var t Totals
	t.TotalValue = decimal.Zero
	for _, card := range s.accounts[KindCard] {
		t.TotalPoints += card.Points
		t.TotalValue = t.TotalValue.Add(card.Value(rate))
	}
	for _, stake := range s.accounts[KindStake] {
		if stake.Stake != nil && stake.Stake.Status == StakeActive {
			t.Staked += stake.Points
		}
	}
	for _, member := range s.accounts[KindPoolMembership] {
		if member.Member != nil && member.Member.Self {
			t.PoolContributed += member.Points
		}
	}
	t.Reserved = t.Staked + t.PoolContributed
	t.Available = t.TotalPoints - t.Reserved
	return t
}

func (s *state) optimalCard() (Account, bool) {
	var best Account
	found := false
	for _, card := range s.accounts[KindCard] {
		if !found || card.Points > best.Points {
			best = card
			found = true
		}
	}
	return best, found
}

type pendingWrite struct {
	key   string
	value any
	seq   uint64
}

// Ledger is safe for concurrent use.
type Ledger struct {
	store          *localstore.Store
	tab            localstore.TabID
	logger         *slog.Logger
	metrics        *observability.LedgerMetrics
	emitter        events.Emitter
	nowFn          func() time.Time
	idFn           func() string
	rate           decimal.Decimal
	poolMultiplier decimal.Decimal
	seed           bool

	mu    sync.RWMutex
	state *state
	seq   uint64

	persistMu sync.Mutex
	persisted map[string]uint64

	unsubscribe func()
}

type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.nowFn = now
		}
	}
}

// WithIDGenerator overrides how new account ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.idFn = fn
		}
	}
}

func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.emitter = emitter
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *observability.LedgerMetrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithRate sets the default points-to-currency rate for cards without an
// override.
func WithRate(rate decimal.Decimal) Option {
	return func(l *Ledger) {
		if rate.IsPositive() {
			l.rate = rate
		}
	}
}

// WithPoolMultiplier sets the bonus multiplier used for new pools.
func WithPoolMultiplier(m decimal.Decimal) Option {
	return func(l *Ledger) {
		if m.IsPositive() {
			l.poolMultiplier = m
		}
	}
}

// WithoutSeed starts missing collections empty instead of with demo data.
func WithoutSeed() Option {
	return func(l *Ledger) { l.seed = false }
}

// Open loads every collection from store and subscribes to changes made by
// other tabs or processes.
func Open(store *localstore.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		logger:         slog.Default(),
		metrics:        observability.Ledger(),
		emitter:        events.NoopEmitter{},
		nowFn:          time.Now,
		idFn:           uuid.NewString,
		rate:           rates.DefaultRate,
		poolMultiplier: decimal.RequireFromString("1.25"),
		seed:           true,
		persisted:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	l.tab = store.NewTab()
	l.state = l.load()
	l.recordTotals(l.state.totals(l.rate))
	l.unsubscribe = store.Subscribe("", l.onChange)
	return l
}

// Close detaches the ledger from store notifications.
func (l *Ledger) Close() {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
}

// Tab returns the writer identity used for this ledger's writes.
func (l *Ledger) Tab() localstore.TabID { return l.tab }

// Rate is the default points-to-currency rate.
func (l *Ledger) Rate() decimal.Decimal { return l.rate }

func (l *Ledger) now() time.Time { return l.nowFn().UTC() }

func (l *Ledger) load() *state {
	seed := emptySeed()
	if l.seed {
		seed = Seed(l.now())
	}
	st := &state{accounts: make(map[Kind][]Account, len(Kinds))}
	for _, kind := range Kinds {
		key := KeyFor(kind)
		st.accounts[kind] = l.sanitize(key, kind, localstore.Get(l.store, key, seed.accounts(kind)))
	}
	st.pool = localstore.Get(l.store, KeyPool, seed.Pool)
	st.profile = Profile{
		PerqPlus:            localstore.Get(l.store, KeyPerqPlus, false),
		ClaimedAchievements: localstore.Get(l.store, KeyAchievements, []string{}),
		Insurance:           localstore.Get[*Insurance](l.store, KeyInsurance, nil),
	}
	return st
}

// sanitize drops entries that do not belong in the collection.
func (l *Ledger) sanitize(key string, kind Kind, list []Account) []Account {
	out := make([]Account, 0, len(list))
	for _, a := range list {
		if a.Kind != kind {
			l.logger.Warn("dropping account stored under wrong key", "key", key, "id", a.ID, "kind", a.Kind)
			continue
		}
		if err := a.Validate(); err != nil {
			l.logger.Warn("dropping invalid account", "key", key, "id", a.ID, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out
}

// onChange replaces the affected collection when another writer stored it.
func (l *Ledger) onChange(change localstore.Change) {
	if change.Tab == l.tab {
		return
	}
	count := 0
	l.mu.Lock()
	next := l.state.shallow()
	switch change.Key {
	case KeyPool:
		var pool *Pool
		if err := json.Unmarshal(change.Value, &pool); err != nil {
			l.mu.Unlock()
			l.logger.Warn("ignoring undecodable change", "key", change.Key, "error", err)
			return
		}
		next.pool = pool
		if pool != nil {
			count = 1
		}
	case KeyPerqPlus:
		var flag bool
		if err := json.Unmarshal(change.Value, &flag); err != nil {
			l.mu.Unlock()
			l.logger.Warn("ignoring undecodable change", "key", change.Key, "error", err)
			return
		}
		next.profile.PerqPlus = flag
	case KeyAchievements:
		var claimed []string
		if err := json.Unmarshal(change.Value, &claimed); err != nil {
			l.mu.Unlock()
			l.logger.Warn("ignoring undecodable change", "key", change.Key, "error", err)
			return
		}
		next.profile.ClaimedAchievements = claimed
		count = len(claimed)
	case KeyInsurance:
		var ins *Insurance
		if err := json.Unmarshal(change.Value, &ins); err != nil {
			l.mu.Unlock()
			l.logger.Warn("ignoring undecodable change", "key", change.Key, "error", err)
			return
		}
		next.profile.Insurance = ins
	default:
		kind, ok := kindForKey(change.Key)
		if !ok {
			l.mu.Unlock()
			return
		}
		var list []Account
		if err := json.Unmarshal(change.Value, &list); err != nil {
			l.mu.Unlock()
			l.logger.Warn("ignoring undecodable change", "key", change.Key, "error", err)
			return
		}
		next.accounts[kind] = l.sanitize(change.Key, kind, list)
		count = len(next.accounts[kind])
	}
	l.state = next
	totals := next.totals(l.rate)
	l.mu.Unlock()

	l.recordTotals(totals)
	l.logger.Info("ledger reloaded", "key", change.Key, "origin", string(change.Origin), "count", count)
	l.emitter.Emit(events.LedgerReloaded{Key: change.Key, Origin: string(change.Origin), Count: count})
}

// Apply runs fn against a copy of the ledger. When fn returns an error the
// copy is discarded; otherwise it replaces the live state and every touched
// collection is persisted.
func (l *Ledger) Apply(fn func(*Tx) error) error {
	tx, writes, totals, err := l.apply(fn)
	if err != nil || len(writes) == 0 {
		return err
	}
	l.persist(writes)
	l.recordTotals(totals)
	for _, evt := range tx.events {
		l.emitter.Emit(evt)
	}
	return nil
}

func (l *Ledger) apply(fn func(*Tx) error) (*Tx, []pendingWrite, Totals, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{ledger: l, state: l.state.clone(), dirty: make(map[string]bool), now: l.now()}
	if err := fn(tx); err != nil {
		return nil, nil, Totals{}, err
	}
	if len(tx.dirty) == 0 {
		return tx, nil, Totals{}, nil
	}
	l.state = tx.state
	l.seq++
	keys := make([]string, 0, len(tx.dirty))
	for key := range tx.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	writes := make([]pendingWrite, 0, len(keys))
	for _, key := range keys {
		writes = append(writes, pendingWrite{key: key, value: l.state.value(key), seq: l.seq})
	}
	return tx, writes, l.state.totals(l.rate), nil
}

// persist writes staged documents in sequence order, skipping any that a
// later batch already superseded.
func (l *Ledger) persist(writes []pendingWrite) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	for _, w := range writes {
		if w.seq < l.persisted[w.key] {
			continue
		}
		l.persisted[w.key] = w.seq
		localstore.Set(l.store, w.key, w.value, localstore.FromTab(l.tab))
	}
}

func (l *Ledger) recordTotals(t Totals) {
	l.metrics.RecordTotals(t.TotalPoints, t.Staked, t.Reserved, t.Available)
}

// AddAccount stores a new account. The id and creation time are assigned
// when empty.
func (l *Ledger) AddAccount(a Account) (Account, error) {
	var added Account
	err := l.Apply(func(tx *Tx) error {
		var err error
		added, err = tx.Add(a)
		return err
	})
	return added, err
}

// AddCard validates the add-card form and stores the card.
func (l *Ledger) AddCard(in CardInput) (Account, error) {
	if err := in.Validate(l.now()); err != nil {
		return Account{}, err
	}
	return l.AddAccount(in.Account())
}

// UpdateAccount applies patch to the account with id. A missing id is a
// no-op.
func (l *Ledger) UpdateAccount(id string, patch Patch) error {
	err := l.Apply(func(tx *Tx) error { return tx.Update(id, patch) })
	if errors.Is(err, ErrAccountNotFound) {
		return nil
	}
	return err
}

// RemoveAccount deletes the account with id. A missing id is a no-op.
func (l *Ledger) RemoveAccount(id string) error {
	return l.Apply(func(tx *Tx) error {
		tx.Remove(id)
		return nil
	})
}

// Account returns a copy of the account with id.
func (l *Ledger) Account(id string) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	kind, idx, ok := l.state.find(id)
	if !ok {
		return Account{}, false
	}
	return l.state.accounts[kind][idx].Clone(), true
}

// Accounts returns copies of the accounts of kind in collection order, or of
// every account when kind is empty.
func (l *Ledger) Accounts(kind Kind) []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if kind != "" {
		return cloneAccounts(l.state.accounts[kind])
	}
	var out []Account
	for _, k := range Kinds {
		out = append(out, cloneAccounts(l.state.accounts[k])...)
	}
	return out
}

// Totals returns every derived bucket in one consistent read.
func (l *Ledger) Totals() Totals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.totals(l.rate)
}

// TotalPoints is the sum of card balances.
func (l *Ledger) TotalPoints() int64 { return l.Totals().TotalPoints }

// TotalValue is the currency value of every card.
func (l *Ledger) TotalValue() decimal.Decimal { return l.Totals().TotalValue }

// Staked is the principal locked in active stakes.
func (l *Ledger) Staked() int64 { return l.Totals().Staked }

// Reserved is staked plus the current user's pool contributions.
func (l *Ledger) Reserved() int64 { return l.Totals().Reserved }

// Available is TotalPoints minus Reserved.
func (l *Ledger) Available() int64 { return l.Totals().Available }

// OptimalCard returns the card with the most points.
func (l *Ledger) OptimalCard() (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	card, ok := l.state.optimalCard()
	return card.Clone(), ok
}

// Stats returns the achievement counters.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.stats()
}

// Pool returns the family pool if one exists.
func (l *Ledger) Pool() (Pool, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state.pool == nil {
		return Pool{}, false
	}
	return *l.state.pool, true
}

// Profile returns a copy of the user profile.
func (l *Ledger) Profile() Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.profile.clone()
}

// UpdateProfile applies fn to a copy of the profile inside a batch.
func (l *Ledger) UpdateProfile(fn func(*Profile) error) error {
	return l.Apply(func(tx *Tx) error {
		profile := tx.Profile()
		if err := fn(&profile); err != nil {
			return err
		}
		tx.SetProfile(profile)
		return nil
	})
}

// SetPerqPlus toggles the premium membership flag.
func (l *Ledger) SetPerqPlus(member bool) error {
	return l.UpdateProfile(func(p *Profile) error {
		p.PerqPlus = member
		return nil
	})
}

// MemberInput describes the current user when creating a pool.
type MemberInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreatePool starts a new pool with the current user as its admin.
func (l *Ledger) CreatePool(name string, self MemberInput) (Pool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Pool{}, common.Invalid("name", common.CodeMissingField, "pool name is required")
	}
	if strings.TrimSpace(self.Name) == "" {
		self.Name = CurrentUserName
	}
	if strings.TrimSpace(self.Email) == "" {
		self.Email = "you@example.com"
	}
	var created Pool
	err := l.Apply(func(tx *Tx) error {
		if tx.state.pool != nil {
			return ErrPoolExists
		}
		pool := &Pool{
			ID:              "pool-" + l.idFn(),
			Name:            name,
			BonusMultiplier: l.poolMultiplier,
			CreatedAt:       tx.now,
		}
		tx.SetPool(pool)
		if _, err := tx.Add(Account{
			Kind: KindPoolMembership,
			Member: &PoolMembership{
				PoolID:   pool.ID,
				Name:     self.Name,
				Email:    self.Email,
				Role:     RoleAdmin,
				Self:     true,
				JoinedAt: tx.now,
			},
		}); err != nil {
			return err
		}
		created = *tx.state.pool
		return nil
	})
	return created, err
}

// InviteCode issues a fresh eight character invite code for email and stores
// it on the pool.
func (l *Ledger) InviteCode(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", common.Invalid("email", common.CodeMissingField, "email address is required")
	}
	if !strings.Contains(email, "@") {
		return "", common.Invalid("email", common.CodeInvalidFormat, "invalid email address")
	}
	code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	err := l.Apply(func(tx *Tx) error {
		if tx.state.pool == nil {
			return ErrNoPool
		}
		pool := *tx.state.pool
		pool.InviteCode = code
		tx.SetPool(&pool)
		return nil
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// RemoveMember drops another member and takes their contribution out of the
// pool total.
func (l *Ledger) RemoveMember(id string) error {
	return l.Apply(func(tx *Tx) error {
		if tx.state.pool == nil {
			return ErrNoPool
		}
		member, ok := tx.Account(id)
		if !ok || member.Kind != KindPoolMembership {
			return nil
		}
		if member.Member.Self {
			return ErrSelfRemoval
		}
		tx.Remove(id)
		return nil
	})
}

// LeavePool dissolves the pool. Self contributions stop being reserved.
func (l *Ledger) LeavePool() error {
	return l.Apply(func(tx *Tx) error {
		if tx.state.pool == nil {
			return ErrNoPool
		}
		for _, member := range tx.Accounts(KindPoolMembership) {
			tx.Remove(member.ID)
		}
		tx.SetPool(nil)
		return nil
	})
}

// ListingInput is the create-listing form.
type ListingInput struct {
	Side        Side            `json:"side"`
	PointsType  string          `json:"pointsType"`
	Points      int64           `json:"points"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Description string          `json:"description"`
}

func (in ListingInput) Validate() error {
	switch {
	case in.Side != SideBuy && in.Side != SideSell:
		return common.Invalid("side", common.CodeInvalidFormat, "side must be buy or sell")
	case strings.TrimSpace(in.PointsType) == "":
		return common.Invalid("pointsType", common.CodeMissingField, "points type is required")
	case in.Points <= 0:
		return common.Invalid("points", common.CodeInvalidAmount, "points must be greater than zero")
	case !in.UnitPrice.IsPositive():
		return common.Invalid("unitPrice", common.CodeInvalidAmount, "price per point must be greater than zero")
	}
	return nil
}

// AddListing publishes a listing authored by the current user. It is shown
// first.
func (l *Ledger) AddListing(in ListingInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	return l.AddAccount(Account{
		Kind:   KindListing,
		Points: in.Points,
		Listing: &Listing{
			Side:        in.Side,
			PointsType:  strings.TrimSpace(in.PointsType),
			UnitPrice:   in.UnitPrice,
			Total:       in.UnitPrice.Mul(decimal.NewFromInt(in.Points)),
			AuthorID:    CurrentUserID,
			AuthorName:  CurrentUserName,
			Verified:    true,
			Rating:      5.0,
			Description: strings.TrimSpace(in.Description),
			Status:      ListingOpen,
		},
	})
}

// RemoveListing deletes a listing. Ids of other kinds are ignored.
func (l *Ledger) RemoveListing(id string) error {
	return l.Apply(func(tx *Tx) error {
		if a, ok := tx.Account(id); ok && a.Kind == KindListing {
			tx.Remove(id)
		}
		return nil
	})
}

// Snapshot is a consistent, ordered view of the ledger.
type Snapshot struct {
	Accounts []Account `json:"accounts"`
	Pool     *Pool     `json:"pool"`
	Profile  Profile   `json:"profile"`
	Totals   Totals    `json:"totals"`
	Digest   string    `json:"digest"`
}

// Snapshot returns every account sorted by kind then id, with a digest over
// the encoded view.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	snap := Snapshot{Profile: l.state.profile.clone(), Totals: l.state.totals(l.rate)}
	for _, kind := range Kinds {
		list := cloneAccounts(l.state.accounts[kind])
		sort.SliceStable(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		snap.Accounts = append(snap.Accounts, list...)
	}
	if l.state.pool != nil {
		pool := *l.state.pool
		snap.Pool = &pool
	}
	l.mu.RUnlock()

	if snap.Accounts == nil {
		snap.Accounts = []Account{}
	}
	if snap.Profile.ClaimedAchievements == nil {
		snap.Profile.ClaimedAchievements = []string{}
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		l.logger.Warn("snapshot digest failed", "error", err)
		return snap
	}
	snap.Digest = localstore.Digest(raw)
	return snap
}

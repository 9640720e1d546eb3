package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"perq/core/events"
	"perq/native/common"
)

// Patch mutates an account in place. Returning an error aborts the batch.
type Patch func(*Account) error

// MergeJSON builds a Patch that overlays a partial JSON document onto the
// account. Unknown fields are refused.
func MergeJSON(raw []byte) Patch {
	return func(a *Account) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(a); err != nil {
			return common.Invalid("body", common.CodeInvalidFormat, "invalid patch: %v", err)
		}
		return nil
	}
}

// SetPoints replaces the balance.
func SetPoints(points int64) Patch {
	return func(a *Account) error {
		a.Points = points
		return nil
	}
}

// AddPoints adjusts the balance by delta.
func AddPoints(delta int64) Patch {
	return func(a *Account) error {
		a.Points += delta
		return nil
	}
}

// Tx is a mutable copy of the ledger handed to Apply callbacks. It is only
// valid for the duration of the callback.
type Tx struct {
	ledger *Ledger
	state  *state
	dirty  map[string]bool
	events []events.Event
	now    time.Time
}

// Now is the batch timestamp.
func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) touch(key string) { tx.dirty[key] = true }

func (tx *Tx) emit(evt events.Event) { tx.events = append(tx.events, evt) }

// Account returns a copy of the account with id.
func (tx *Tx) Account(id string) (Account, bool) {
	kind, idx, ok := tx.state.find(id)
	if !ok {
		return Account{}, false
	}
	return tx.state.accounts[kind][idx].Clone(), true
}

// Accounts returns copies of the accounts of kind.
func (tx *Tx) Accounts(kind Kind) []Account {
	return cloneAccounts(tx.state.accounts[kind])
}

// Stats reflects every change made so far in the batch.
func (tx *Tx) Stats() Stats { return tx.state.stats() }

// Totals reflects every change made so far in the batch.
func (tx *Tx) Totals() Totals { return tx.state.totals(tx.ledger.rate) }

// Add inserts a new account. Listings go first, everything else is appended.
func (tx *Tx) Add(a Account) (Account, error) {
	a = a.Clone()
	if a.ID == "" {
		a.ID = tx.ledger.idFn()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = tx.now
	}
	if err := a.Validate(); err != nil {
		return Account{}, err
	}
	if _, _, exists := tx.state.find(a.ID); exists {
		return Account{}, fmt.Errorf("ledger: duplicate account id %q", a.ID)
	}
	list := tx.state.accounts[a.Kind]
	if a.Kind == KindListing {
		list = append([]Account{a}, list...)
	} else {
		list = append(list, a)
	}
	tx.state.accounts[a.Kind] = list
	tx.touch(KeyFor(a.Kind))
	if a.Kind == KindPoolMembership {
		tx.adjustPool(a.Points)
	}
	tx.emit(events.AccountChanged{Action: "added", ID: a.ID, Kind: string(a.Kind), Points: a.Points})
	return a.Clone(), nil
}

// Update applies patch to the account with id.
func (tx *Tx) Update(id string, patch Patch) error {
	kind, idx, ok := tx.state.find(id)
	if !ok {
		return ErrAccountNotFound
	}
	current := tx.state.accounts[kind][idx]
	next := current.Clone()
	if err := patch(&next); err != nil {
		return err
	}
	if next.ID != current.ID || next.Kind != current.Kind {
		return ErrKindChange
	}
	if next.Points < 0 {
		return fmt.Errorf("%w: account %s", ErrNegativePoints, id)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if kind == KindCard && next.Card.Number != current.Card.Number && !ValidCardNumber(next.Card.Number) {
		return common.Invalid("number", common.CodeInvalidFormat, "invalid card number")
	}
	tx.state.accounts[kind][idx] = next
	tx.touch(KeyFor(kind))
	if kind == KindPoolMembership {
		tx.adjustPool(next.Points - current.Points)
	}
	tx.emit(events.AccountChanged{Action: "updated", ID: id, Kind: string(kind), Points: next.Points})
	return nil
}

// Remove deletes the account with id and reports whether it existed.
func (tx *Tx) Remove(id string) bool {
	kind, idx, ok := tx.state.find(id)
	if !ok {
		return false
	}
	removed := tx.state.accounts[kind][idx]
	tx.state.accounts[kind] = slices.Delete(tx.state.accounts[kind], idx, idx+1)
	tx.touch(KeyFor(kind))
	if kind == KindPoolMembership {
		tx.adjustPool(-removed.Points)
	}
	tx.emit(events.AccountChanged{Action: "removed", ID: id, Kind: string(kind), Points: removed.Points})
	return true
}

func (tx *Tx) adjustPool(delta int64) {
	if tx.state.pool == nil || delta == 0 {
		return
	}
	pool := *tx.state.pool
	pool.TotalPoints += delta
	if pool.TotalPoints < 0 {
		pool.TotalPoints = 0
	}
	tx.state.pool = &pool
	tx.touch(KeyPool)
}

// Pool returns the pool as seen by the batch.
func (tx *Tx) Pool() (Pool, bool) {
	if tx.state.pool == nil {
		return Pool{}, false
	}
	return *tx.state.pool, true
}

// SetPool replaces the pool; nil removes it.
func (tx *Tx) SetPool(pool *Pool) {
	if pool != nil {
		cp := *pool
		pool = &cp
	}
	tx.state.pool = pool
	tx.touch(KeyPool)
}

// SelfMembership returns the current user's pool membership.
func (tx *Tx) SelfMembership() (Account, bool) {
	for _, member := range tx.state.accounts[KindPoolMembership] {
		if member.Member != nil && member.Member.Self {
			return member.Clone(), true
		}
	}
	return Account{}, false
}

// Profile returns a copy of the profile as seen by the batch.
func (tx *Tx) Profile() Profile { return tx.state.profile.clone() }

// SetProfile stores p, touching only the keys whose field changed.
func (tx *Tx) SetProfile(p Profile) {
	current := tx.state.profile
	next := p.clone()
	if next.PerqPlus != current.PerqPlus {
		tx.touch(KeyPerqPlus)
		tx.emit(events.ProfileUpdated{Field: "perqPlus", Value: strconv.FormatBool(next.PerqPlus)})
	}
	if !slices.Equal(next.ClaimedAchievements, current.ClaimedAchievements) {
		tx.touch(KeyAchievements)
		tx.emit(events.ProfileUpdated{Field: "achievements", Value: strconv.Itoa(len(next.ClaimedAchievements))})
	}
	if !insuranceEqual(next.Insurance, current.Insurance) {
		tx.touch(KeyInsurance)
		value := ""
		if next.Insurance != nil {
			value = next.Insurance.PlanID
		}
		tx.emit(events.ProfileUpdated{Field: "insurance", Value: value})
	}
	tx.state.profile = next
}

// OptimalCard returns the card with the most points.
func (tx *Tx) OptimalCard() (Account, bool) {
	card, ok := tx.state.optimalCard()
	return card.Clone(), ok
}

// Movement records points moved on one card.
type Movement struct {
	CardID string `json:"cardId"`
	Points int64  `json:"points"`
}

// Debit takes points from cardID, or spreads the debit over every card
// starting with the largest balance when cardID is empty. Availability
// against reserved points is the caller's concern.
func (tx *Tx) Debit(points int64, cardID string) ([]Movement, error) {
	if points <= 0 {
		return nil, common.Invalid("points", common.CodeInvalidAmount, "amount must be greater than zero")
	}
	if cardID != "" {
		card, ok := tx.Account(cardID)
		if !ok || card.Kind != KindCard {
			return nil, common.Invalid("cardId", common.CodeNotFound, "card %s not found", cardID)
		}
		if card.Points < points {
			return nil, common.Invalid("points", common.CodeInsufficientPoints,
				"card holds %d points, %d requested", card.Points, points)
		}
		if err := tx.Update(cardID, AddPoints(-points)); err != nil {
			return nil, err
		}
		return []Movement{{CardID: cardID, Points: points}}, nil
	}

	cards := tx.Accounts(KindCard)
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].Points > cards[j].Points })
	var held int64
	for _, card := range cards {
		held += card.Points
	}
	if held < points {
		return nil, common.Invalid("points", common.CodeInsufficientPoints,
			"cards hold %d points, %d requested", held, points)
	}
	var moves []Movement
	remaining := points
	for _, card := range cards {
		if remaining == 0 {
			break
		}
		take := min(card.Points, remaining)
		if take == 0 {
			continue
		}
		if err := tx.Update(card.ID, AddPoints(-take)); err != nil {
			return nil, err
		}
		moves = append(moves, Movement{CardID: card.ID, Points: take})
		remaining -= take
	}
	return moves, nil
}

// Credit adds points to cardID, or to the optimal card when cardID is empty
// or no longer exists.
func (tx *Tx) Credit(points int64, cardID string) (Movement, error) {
	if points < 0 {
		return Movement{}, common.Invalid("points", common.CodeInvalidAmount, "amount must not be negative")
	}
	target := ""
	if cardID != "" {
		if card, ok := tx.Account(cardID); ok && card.Kind == KindCard {
			target = card.ID
		}
	}
	if target == "" {
		card, ok := tx.OptimalCard()
		if !ok {
			return Movement{}, common.Invalid("cardId", common.CodeNotFound, "no card to credit")
		}
		target = card.ID
	}
	if points > 0 {
		if err := tx.Update(target, AddPoints(points)); err != nil {
			return Movement{}, err
		}
	}
	return Movement{CardID: target, Points: points}, nil
}

package events

import "strconv"

const (
	// TypeAccountAdded is emitted after a new account is persisted.
	TypeAccountAdded = "ledger.account.added"
	// TypeAccountUpdated is emitted after an account is patched.
	TypeAccountUpdated = "ledger.account.updated"
	// TypeAccountRemoved is emitted after an account is removed.
	TypeAccountRemoved = "ledger.account.removed"
	// TypeLedgerReloaded is emitted when another tab or process replaced a
	// persisted collection and the ledger re-read it.
	TypeLedgerReloaded = "ledger.reloaded"
	// TypeProfileUpdated covers membership, insurance and achievement claims.
	TypeProfileUpdated = "ledger.profile.updated"
)

// AccountChanged captures a single account mutation.
type AccountChanged struct {
	Action string
	ID     string
	Kind   string
	Points int64
}

// EventType satisfies the Event interface.
func (e AccountChanged) EventType() string {
	switch e.Action {
	case "added":
		return TypeAccountAdded
	case "removed":
		return TypeAccountRemoved
	default:
		return TypeAccountUpdated
	}
}

// Event converts the structured payload into a broadcastable event.
func (e AccountChanged) Event() *Record {
	return &Record{Type: e.EventType(), Attributes: map[string]string{
		"id":     e.ID,
		"kind":   e.Kind,
		"points": strconv.FormatInt(e.Points, 10),
	}}
}

// LedgerReloaded reports that a collection was replaced from the store.
type LedgerReloaded struct {
	Key    string
	Origin string
	Count  int
}

// EventType satisfies the Event interface.
func (LedgerReloaded) EventType() string { return TypeLedgerReloaded }

// Event converts the structured payload into a broadcastable event.
func (e LedgerReloaded) Event() *Record {
	return &Record{Type: TypeLedgerReloaded, Attributes: map[string]string{
		"key":    e.Key,
		"origin": e.Origin,
		"count":  strconv.Itoa(e.Count),
	}}
}

// ProfileUpdated reports a change to one profile field.
type ProfileUpdated struct {
	Field string
	Value string
}

// EventType satisfies the Event interface.
func (ProfileUpdated) EventType() string { return TypeProfileUpdated }

// Event converts the structured payload into a broadcastable event.
func (e ProfileUpdated) Event() *Record {
	return &Record{Type: TypeProfileUpdated, Attributes: map[string]string{
		"field": e.Field,
		"value": e.Value,
	}}
}

package events

import "strconv"

const (
	// TypeTransactionCommitted is emitted once a simulated transaction mutated the ledger.
	TypeTransactionCommitted = "transaction.committed"
	// TypeTransactionRejected is emitted when validation stopped a transaction.
	TypeTransactionRejected = "transaction.rejected"
	// TypeTransactionCancelled is emitted when a pending transaction was abandoned.
	TypeTransactionCancelled = "transaction.cancelled"
)

// TransactionSettled captures the terminal state of a simulated transaction.
type TransactionSettled struct {
	ID     string
	Kind   string
	State  string
	Amount int64
	Reason string
}

// EventType satisfies the Event interface.
func (e TransactionSettled) EventType() string {
	switch e.State {
	case "committed":
		return TypeTransactionCommitted
	case "cancelled":
		return TypeTransactionCancelled
	default:
		return TypeTransactionRejected
	}
}

// Event converts the structured payload into a broadcastable event.
func (e TransactionSettled) Event() *Record {
	attrs := map[string]string{
		"id":     e.ID,
		"kind":   e.Kind,
		"amount": strconv.FormatInt(e.Amount, 10),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &Record{Type: e.EventType(), Attributes: attrs}
}

package simulator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perq/native/common"
	"perq/native/ledger"
)

// State is the lifecycle position of a transaction.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StatePending    State = "pending"
	StateCommitted  State = "committed"
	StateRejected   State = "rejected"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRejected || s == StateCancelled
}

// Reasons recorded on non-committed transactions.
const (
	ReasonPaused    = "paused"
	ReasonCancelled = "cancelled"
	ReasonTimeout   = "timeout"
	ReasonError     = "error"
)

// Receipt describes what a committed transaction did.
type Receipt struct {
	Message       string            `json:"message"`
	Debits        []ledger.Movement `json:"debits,omitempty"`
	Credits       []ledger.Movement `json:"credits,omitempty"`
	StakeID       string            `json:"stakeId,omitempty"`
	EndsAt        *time.Time        `json:"endsAt,omitempty"`
	Earnings      int64             `json:"earnings,omitempty"`
	TotalReturn   int64             `json:"totalReturn,omitempty"`
	Asset         string            `json:"asset,omitempty"`
	CryptoAmount  *decimal.Decimal  `json:"cryptoAmount,omitempty"`
	CurrencyValue *decimal.Decimal  `json:"currencyValue,omitempty"`
	PoolTotal     int64             `json:"poolTotal,omitempty"`
}

// Transaction is the record of one simulated operation.
type Transaction struct {
	ID        string                  `json:"id"`
	Kind      Kind                    `json:"kind"`
	Accounts  []string                `json:"accounts"`
	Amount    int64                   `json:"amount"`
	State     State                   `json:"state"`
	Reason    string                  `json:"reason,omitempty"`
	Error     *common.ValidationError `json:"error,omitempty"`
	Receipt   *Receipt                `json:"receipt,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
	SettledAt *time.Time              `json:"settledAt,omitempty"`
}

func (t Transaction) clone() Transaction {
	out := t
	out.Accounts = append([]string(nil), t.Accounts...)
	if t.Error != nil {
		verr := *t.Error
		out.Error = &verr
	}
	if t.Receipt != nil {
		receipt := *t.Receipt
		out.Receipt = &receipt
	}
	if t.SettledAt != nil {
		at := *t.SettledAt
		out.SettledAt = &at
	}
	return out
}

// Handle tracks a submitted transaction until it settles.
type Handle struct {
	done       chan struct{}
	cancel     chan struct{}
	cancelOnce sync.Once

	mu  sync.Mutex
	tx  Transaction
	err error
}

func newHandle(tx Transaction) *Handle {
	return &Handle{done: make(chan struct{}), cancel: make(chan struct{}), tx: tx}
}

// ID is the transaction id.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tx.ID
}

// Done is closed once the transaction reached a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel abandons the transaction if it has not committed yet. Calling it
// more than once, or after settlement, has no effect.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
}

// Transaction returns the current view of the transaction.
func (h *Handle) Transaction() Transaction {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tx.clone()
}

// Wait blocks until the transaction settles and returns its final form. The
// error is nil only for committed transactions.
func (h *Handle) Wait() (Transaction, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tx.clone(), h.err
}

func (h *Handle) setState(state State) {
	h.mu.Lock()
	h.tx.State = state
	h.mu.Unlock()
}

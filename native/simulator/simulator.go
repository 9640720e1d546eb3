// Package simulator runs typed ledger operations through a validate, wait,
// commit lifecycle that mimics a remote settlement. Every submission ends in
// exactly one of committed, rejected or cancelled, and only committed
// transactions mutate the ledger.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"perq/config"
	"perq/core/events"
	"perq/native/common"
	"perq/native/ledger"
	"perq/observability"
)

var (
	// ErrCancelled is returned by Wait when Handle.Cancel abandoned the
	// transaction.
	ErrCancelled = errors.New("simulator: transaction cancelled")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("simulator: shut down")

	errDryRun = errors.New("simulator: dry run")
)

// Journal stores terminal transactions.
type Journal interface {
	Record(ctx context.Context, tx Transaction) error
}

type Simulator struct {
	ledger  *ledger.Ledger
	env     *env
	pauses  common.PauseView
	journal Journal
	emitter events.Emitter
	metrics *observability.SimulatorMetrics
	tracer  trace.Tracer
	logger  *slog.Logger
	nowFn   func() time.Time
	idFn    func() string
	latency time.Duration
	jitter  time.Duration

	mu       sync.Mutex
	closed   bool
	inFlight map[string]*Handle
	wg       sync.WaitGroup
}

type Option func(*Simulator)

// WithLatency sets the simulated settlement delay: base plus a uniform
// random share of jitter. Zero for both commits without waiting.
func WithLatency(base, jitter time.Duration) Option {
	return func(s *Simulator) {
		s.latency = max(base, 0)
		s.jitter = max(jitter, 0)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		if now != nil {
			s.nowFn = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Simulator) {
		if fn != nil {
			s.idFn = fn
		}
	}
}

// WithPauses rejects operations belonging to paused modules.
func WithPauses(p common.PauseView) Option {
	return func(s *Simulator) { s.pauses = p }
}

func WithJournal(j Journal) Option {
	return func(s *Simulator) { s.journal = j }
}

func WithEmitter(emitter events.Emitter) Option {
	return func(s *Simulator) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *observability.SimulatorMetrics) Option {
	return func(s *Simulator) { s.metrics = m }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Simulator) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New builds a simulator over l using catalog for option, asset, reward and
// achievement lookups.
func New(l *ledger.Ledger, catalog *config.Catalog, opts ...Option) *Simulator {
	s := &Simulator{
		ledger:   l,
		env:      &env{catalog: catalog, rate: l.Rate()},
		emitter:  events.NoopEmitter{},
		metrics:  observability.Simulator(),
		tracer:   otel.Tracer("perq/simulator"),
		logger:   slog.Default(),
		nowFn:    time.Now,
		idFn:     uuid.NewString,
		latency:  1500 * time.Millisecond,
		jitter:   500 * time.Millisecond,
		inFlight: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "simulator")
	return s
}

// Execute submits op and waits for it to settle. Cancelling ctx before the
// commit cancels the transaction.
func (s *Simulator) Execute(ctx context.Context, op Operation) (Transaction, error) {
	h, err := s.Submit(ctx, op)
	if err != nil {
		return Transaction{}, err
	}
	return h.Wait()
}

// Submit validates op and, when it passes, leaves it pending until the
// simulated latency elapses. The returned handle is already settled when
// validation failed.
func (s *Simulator) Submit(ctx context.Context, op Operation) (*Handle, error) {
	if op == nil {
		return nil, fmt.Errorf("simulator: operation required")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	tx := Transaction{
		ID:        s.idFn(),
		Kind:      op.Kind(),
		Accounts:  accountsOf(op),
		Amount:    op.amount(),
		State:     StateIdle,
		CreatedAt: s.nowFn().UTC(),
	}
	h := newHandle(tx)
	spanCtx, span := s.tracer.Start(ctx, "simulator."+string(op.Kind()),
		trace.WithAttributes(
			attribute.String("transaction.id", tx.ID),
			attribute.String("transaction.kind", string(tx.Kind)),
			attribute.Int64("transaction.amount", tx.Amount),
		))
	run := &execution{sim: s, handle: h, op: op, span: span, ctx: spanCtx}

	h.setState(StateValidating)
	if err := common.Guard(s.pauses, op.module()); err != nil {
		run.settle(StateRejected, ReasonPaused, nil, err)
		return h, nil
	}
	key := string(op.Kind()) + ":" + op.target()
	if !s.reserve(key, h) {
		run.settle(StateRejected, string(common.CodeDuplicateSubmission), nil,
			common.Invalid("", common.CodeDuplicateSubmission, "a %s for %s is already pending", op.Kind(), op.target()))
		return h, nil
	}
	run.key = key
	if _, err := s.dryRun(op); err != nil {
		run.reject(err)
		return h, nil
	}
	h.setState(StatePending)
	go run.wait()
	return h, nil
}

// InFlight returns the number of pending transactions.
func (s *Simulator) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Shutdown cancels every pending transaction and waits for them to settle
// or for ctx to expire.
func (s *Simulator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := make([]*Handle, 0, len(s.inFlight))
	for _, h := range s.inFlight {
		pending = append(pending, h)
	}
	s.mu.Unlock()

	for _, h := range pending {
		h.Cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) reserve(key string, h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = h
	s.metrics.SetInFlight(len(s.inFlight))
	return true
}

func (s *Simulator) release(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	delete(s.inFlight, key)
	s.metrics.SetInFlight(len(s.inFlight))
	s.mu.Unlock()
}

// dryRun evaluates op against the current ledger and discards the result.
func (s *Simulator) dryRun(op Operation) (*Receipt, error) {
	var receipt *Receipt
	err := s.ledger.Apply(func(tx *ledger.Tx) error {
		r, err := op.apply(s.env, tx)
		if err != nil {
			return err
		}
		receipt = r
		return errDryRun
	})
	if errors.Is(err, errDryRun) {
		return receipt, nil
	}
	return nil, err
}

func (s *Simulator) delay() time.Duration {
	d := s.latency
	if s.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(s.jitter)))
	}
	return d
}

type execution struct {
	sim    *Simulator
	handle *Handle
	op     Operation
	key    string
	span   trace.Span
	ctx    context.Context
}

func (e *execution) wait() {
	h := e.handle
	if d := e.sim.delay(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-e.ctx.Done():
			timer.Stop()
			e.cancelled(e.ctx.Err())
			return
		case <-h.cancel:
			timer.Stop()
			e.cancelled(ErrCancelled)
			return
		}
	}
	select {
	case <-e.ctx.Done():
		e.cancelled(e.ctx.Err())
		return
	case <-h.cancel:
		e.cancelled(ErrCancelled)
		return
	default:
	}
	e.commit()
}

func (e *execution) commit() {
	var receipt *Receipt
	err := e.sim.ledger.Apply(func(tx *ledger.Tx) error {
		r, err := e.op.apply(e.sim.env, tx)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		e.reject(err)
		return
	}
	e.settle(StateCommitted, "", receipt, nil)
}

func (e *execution) cancelled(err error) {
	reason := ReasonCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	e.settle(StateCancelled, reason, nil, err)
}

func (e *execution) reject(err error) {
	reason := ReasonError
	if verr, ok := common.AsValidation(err); ok {
		reason = string(verr.Code)
	}
	e.settle(StateRejected, reason, nil, err)
}

// settle moves the transaction to its terminal state and reports it.
func (e *execution) settle(state State, reason string, receipt *Receipt, err error) {
	s := e.sim
	defer s.wg.Done()
	s.release(e.key)

	settledAt := s.nowFn().UTC()
	h := e.handle
	h.mu.Lock()
	h.tx.State = state
	h.tx.Reason = reason
	h.tx.Receipt = receipt
	h.tx.SettledAt = &settledAt
	if verr, ok := common.AsValidation(err); ok {
		h.tx.Error = verr
	}
	if receipt != nil {
		if h.tx.Amount == 0 {
			for _, m := range append(receipt.Debits, receipt.Credits...) {
				h.tx.Amount += m.Points
			}
		}
		for _, d := range receipt.Debits {
			h.tx.Accounts = appendUnique(h.tx.Accounts, d.CardID)
		}
		for _, c := range receipt.Credits {
			h.tx.Accounts = appendUnique(h.tx.Accounts, c.CardID)
		}
		if receipt.StakeID != "" {
			h.tx.Accounts = appendUnique(h.tx.Accounts, receipt.StakeID)
		}
	}
	h.err = err
	final := h.tx.clone()
	h.mu.Unlock()

	switch {
	case state == StateCommitted:
		e.span.SetStatus(codes.Ok, "committed")
	case err != nil:
		e.span.RecordError(err)
		e.span.SetStatus(codes.Error, err.Error())
	}
	e.span.SetAttributes(attribute.String("transaction.state", string(state)))
	e.span.End()

	s.metrics.Observe(string(final.Kind), string(state), reason, settledAt.Sub(final.CreatedAt))
	attrs := []any{"id", final.ID, "kind", final.Kind, "state", state, "amount", final.Amount}
	switch {
	case reason == ReasonError:
		s.logger.Error("transaction failed", append(attrs, "error", err)...)
	case reason != "":
		s.logger.Info("transaction settled", append(attrs, "reason", reason)...)
	default:
		s.logger.Info("transaction settled", attrs...)
	}
	if s.journal != nil {
		if jerr := s.journal.Record(context.WithoutCancel(e.ctx), final); jerr != nil {
			s.logger.Warn("journal write failed", "id", final.ID, "error", jerr)
		}
	}
	s.emitter.Emit(events.TransactionSettled{
		ID:     final.ID,
		Kind:   string(final.Kind),
		State:  string(state),
		Amount: final.Amount,
		Reason: reason,
	})
	close(h.done)
}

func accountsOf(op Operation) []string {
	var ids []string
	switch op := op.(type) {
	case Redeem:
		ids = appendUnique(ids, op.CardID)
	case Stake:
		ids = appendUnique(ids, op.CardID)
	case Unstake:
		ids = appendUnique(ids, op.StakeID)
	case Trade:
		ids = appendUnique(ids, op.ListingID)
	}
	return ids
}

func appendUnique(list []string, id string) []string {
	if id == "" {
		return list
	}
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

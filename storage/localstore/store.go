// Package localstore layers typed JSON values, change notification and
// cross-process reconciliation on top of a storage.Database.
//
// Reads never fail: missing or corrupt data falls back to the caller's
// default. Writes never fail either: a backend error is logged as a
// persistence warning and the in-memory value is still updated, so readers
// in this process see the new value even when durability was lost.
package localstore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"lukechampine.com/blake3"

	"perq/observability"
	"perq/storage"
)

// Origin tells subscribers where a change came from.
type Origin string

const (
	// OriginLocal marks writes made through this Store.
	OriginLocal Origin = "local"
	// OriginExternal marks writes observed from another process.
	OriginExternal Origin = "external"
)

// TabID identifies one writer sharing a Store, the equivalent of a browser tab.
// The zero TabID is anonymous.
type TabID uint64

// Change is broadcast after every write.
type Change struct {
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
	Origin Origin          `json:"origin"`
	Tab    TabID           `json:"tab,omitempty"`
	Digest string          `json:"digest"`
}

type entry struct {
	raw    json.RawMessage
	digest [32]byte
}

type subscription struct {
	key string
	fn  func(Change)
}

// recentWrites bounds how many of its own digests the store remembers per key
// when filtering watcher echoes.
const recentWrites = 8

type Store struct {
	db      storage.Database
	logger  *slog.Logger
	metrics *observability.StoreMetrics

	// writeMu orders writes and their notifications; mu guards the maps.
	writeMu sync.Mutex
	mu      sync.Mutex
	values  map[string]entry
	recent  map[string][][32]byte
	subs    map[uint64]subscription
	nextSub uint64
	nextTab atomic.Uint64
}

type Option func(*Store)

// WithLogger overrides the logger used for persistence warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry.
func WithMetrics(m *observability.StoreMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New wraps db. The store does not take ownership of db; callers close it.
func New(db storage.Database, opts ...Option) *Store {
	s := &Store{
		db:      db,
		logger:  slog.Default(),
		metrics: observability.Store(),
		values:  make(map[string]entry),
		recent:  make(map[string][][32]byte),
		subs:    make(map[uint64]subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "localstore")
	return s
}

// Database exposes the backend.
func (s *Store) Database() storage.Database { return s.db }

// NewTab allocates a fresh writer identity.
func (s *Store) NewTab() TabID {
	return TabID(s.nextTab.Add(1))
}

// Subscribe registers fn for changes to key, or to every key when key is
// empty. Callbacks run synchronously on the writing goroutine, in write
// order, and must not write to the store themselves.
func (s *Store) Subscribe(key string, fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = subscription{key: key, fn: fn}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Raw returns the current JSON document for key.
func (s *Store) Raw(key string) (json.RawMessage, bool) {
	return s.load(key)
}

// Digest returns the hex BLAKE3 digest of raw.
func Digest(raw []byte) string {
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Get returns the value stored under key decoded as T, or def when the key
// is missing or holds data that does not decode.
func Get[T any](s *Store, key string, def T) T {
	raw, ok := s.load(key)
	if !ok {
		return def
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		s.warn(key, "decode", err)
		return def
	}
	return out
}

// WriteOption tunes a single write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	tab TabID
}

// FromTab tags the write with the writer's TabID.
func FromTab(tab TabID) WriteOption {
	return func(o *writeOptions) { o.tab = tab }
}

// Set stores value under key and returns it.
func Set[T any](s *Store, key string, value T, opts ...WriteOption) T {
	raw, err := json.Marshal(value)
	if err != nil {
		// The last known value stays in place.
		s.warn(key, "encode", err)
		return value
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.commit(key, raw, opts)
	return value
}

// Update applies fn to the current value (or def) and stores the result.
// The read-modify-write is atomic with respect to other writes on s.
func Update[T any](s *Store, key string, def T, fn func(T) T, opts ...WriteOption) T {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := fn(Get(s, key, def))
	raw, err := json.Marshal(next)
	if err != nil {
		s.warn(key, "encode", err)
		return next
	}
	s.commit(key, raw, opts)
	return next
}

// commit must be called with writeMu held.
func (s *Store) commit(key string, raw json.RawMessage, opts []WriteOption) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	digest := blake3.Sum256(raw)

	s.mu.Lock()
	s.values[key] = entry{raw: raw, digest: digest}
	recent := append(s.recent[key], digest)
	if len(recent) > recentWrites {
		recent = recent[len(recent)-recentWrites:]
	}
	s.recent[key] = recent
	s.mu.Unlock()

	s.metrics.RecordWrite(key)
	if err := s.db.Put([]byte(key), raw); err != nil {
		s.warn(key, "write", err)
	}
	s.dispatch(Change{
		Key:    key,
		Value:  raw,
		Origin: OriginLocal,
		Tab:    o.tab,
		Digest: hex.EncodeToString(digest[:]),
	})
}

// load returns the in-memory document, falling back to the backend.
func (s *Store) load(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	cached, ok := s.values[key]
	s.mu.Unlock()
	if ok {
		return cached.raw, true
	}

	raw, err := s.db.Get([]byte(key))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.warn(key, "read", err)
		}
		return nil, false
	}
	if !json.Valid(raw) {
		s.warn(key, "decode", errors.New("stored value is not valid JSON"))
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.values[key]; ok {
		// A write landed while we were reading; it wins.
		return cached.raw, true
	}
	s.values[key] = entry{raw: raw, digest: blake3.Sum256(raw)}
	return raw, true
}

func (s *Store) dispatch(change Change) {
	s.mu.Lock()
	targets := make([]func(Change), 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.key == "" || sub.key == change.Key {
			targets = append(targets, sub.fn)
		}
	}
	s.mu.Unlock()

	s.metrics.RecordChange(string(change.Origin))
	for _, fn := range targets {
		fn(change)
	}
}

func (s *Store) warn(key, op string, err error) {
	s.metrics.RecordWarning(key, op)
	s.logger.Warn("persistence warning", "key", key, "op", op, "error", err)
}

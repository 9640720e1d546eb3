package localstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"

	"github.com/fsnotify/fsnotify"
	"lukechampine.com/blake3"

	"perq/storage"
)

// ErrWatchUnsupported is returned when the backend cannot be shared between
// processes.
var ErrWatchUnsupported = errors.New("localstore: backend does not support cross-process watching")

// Watcher re-reads values written by other processes into the file backend
// and dispatches them as external changes.
type Watcher struct {
	store   *Store
	files   *storage.FileDB
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Watch starts a Watcher over the store's file backend. The watcher stops
// when ctx is cancelled or Stop is called.
func (s *Store) Watch(ctx context.Context) (*Watcher, error) {
	files, ok := s.db.(*storage.FileDB)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(files.Dir()); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		store:   s,
		files:   files,
		watcher: fsw,
		running: true,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.run(ctx)
	s.logger.Info("watching store directory", "dir", files.Dir())
	return w, nil
}

// Stop ends the watch loop and waits for it to exit. Safe to call twice.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.store.logger.Error("close watcher", "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Deletions are ignored; the last known value stays authoritative.
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	key, ok := w.files.KeyForPath(event.Name)
	if !ok {
		return
	}
	w.store.reconcileExternal(key)
}

// reconcileExternal re-reads key from the backend and dispatches it when it
// differs from everything this store wrote recently.
func (s *Store) reconcileExternal(key string) {
	raw, err := s.db.Get([]byte(key))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.warn(key, "read", err)
		}
		return
	}
	if !json.Valid(raw) {
		s.warn(key, "decode", errors.New("external value is not valid JSON"))
		return
	}
	digest := blake3.Sum256(raw)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if cur, ok := s.values[key]; ok && cur.digest == digest {
		s.mu.Unlock()
		return
	}
	for _, own := range s.recent[key] {
		if own == digest {
			s.mu.Unlock()
			return
		}
	}
	s.values[key] = entry{raw: raw, digest: digest}
	s.mu.Unlock()

	s.dispatch(Change{
		Key:    key,
		Value:  raw,
		Origin: OriginExternal,
		Digest: hex.EncodeToString(digest[:]),
	})
}

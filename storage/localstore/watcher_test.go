package localstore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"perq/storage"
)

func TestWatchRequiresFileBackend(t *testing.T) {
	store := New(storage.NewMemDB())
	_, err := store.Watch(context.Background())
	require.ErrorIs(t, err, ErrWatchUnsupported)
}

func TestWatcherDeliversExternalWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	dbA, err := storage.NewFileDB(dir)
	require.NoError(t, err)
	dbB, err := storage.NewFileDB(dir)
	require.NoError(t, err)

	writer := New(dbA)
	reader := New(dbB)
	require.Equal(t, 0, Get(reader, "cards", 0))

	var mu sync.Mutex
	var external []Change
	reader.Subscribe("cards", func(c Change) {
		mu.Lock()
		external = append(external, c)
		mu.Unlock()
	})
	var echoes int
	writer.Subscribe("cards", func(c Change) {
		if c.Origin == OriginExternal {
			mu.Lock()
			echoes++
			mu.Unlock()
		}
	})

	readerWatch, err := reader.Watch(context.Background())
	require.NoError(t, err)
	defer readerWatch.Stop()
	writerWatch, err := writer.Watch(context.Background())
	require.NoError(t, err)
	defer writerWatch.Stop()

	Set(writer, "cards", 3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(external) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 3, Get(reader, "cards", 0))
	mu.Lock()
	require.Equal(t, OriginExternal, external[len(external)-1].Origin)
	mu.Unlock()

	// Corrupt data from another process is ignored.
	require.NoError(t, os.WriteFile(dbB.Path([]byte("cards")), []byte("{"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 3, Get(reader, "cards", 0))

	mu.Lock()
	require.Zero(t, echoes, "writer must not treat its own write as external")
	mu.Unlock()
}

func TestWatcherStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	db, err := storage.NewFileDB(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	w, err := New(db).Watch(ctx)
	require.NoError(t, err)
	cancel()
	w.Stop()
	w.Stop()
}

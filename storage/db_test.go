package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openBackends(t *testing.T) map[string]Database {
	t.Helper()
	backends := map[string]Database{"memory": NewMemDB()}
	for _, name := range []string{BackendFile, BackendLevelDB, BackendBolt} {
		db, err := Open(name, t.TempDir())
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		t.Cleanup(db.Close)
		backends[name] = db
	}
	return backends
}

func TestBackendsRoundTrip(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := db.Get([]byte("cards")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound before write, got %v", err)
			}
			want := []byte(`[{"id":"1"}]`)
			if err := db.Put([]byte("cards"), want); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := db.Get([]byte("cards"))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("unexpected value %q", got)
			}
			if err := db.Delete([]byte("cards")); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := db.Get([]byte("cards")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if err := db.Delete([]byte("cards")); err != nil {
				t.Fatalf("second delete should be a no-op: %v", err)
			}
		})
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'z'
	got, _ := db.Get([]byte("k"))
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}

func TestFileDBKeyMapping(t *testing.T) {
	dir := t.TempDir()
	db, err := NewFileDB(dir)
	if err != nil {
		t.Fatalf("new file db: %v", err)
	}
	if err := db.Put([]byte("marketplace_listings"), []byte("[]")); err != nil {
		t.Fatalf("put: %v", err)
	}
	path := db.Path([]byte("marketplace_listings"))
	if filepath.Dir(path) != dir {
		t.Fatalf("value written outside data dir: %s", path)
	}
	key, ok := db.KeyForPath(path)
	if !ok || key != "marketplace_listings" {
		t.Fatalf("unexpected key mapping %q %v", key, ok)
	}
	if _, ok := db.KeyForPath(filepath.Join(dir, ".tmp-123")); ok {
		t.Fatalf("temporary files must not map to keys")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileExt is the suffix of every value file written by FileDB.
const FileExt = ".json"

// FileDB keeps one file per key inside a directory. Writes go to a temporary
// file that is renamed over the target, so readers in other processes never
// observe a half-written value.
type FileDB struct {
	dir string
}

// NewFileDB creates the directory if needed and returns a FileDB rooted there.
func NewFileDB(dir string) (*FileDB, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage: file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	return &FileDB{dir: dir}, nil
}

// Dir returns the directory holding the value files.
func (f *FileDB) Dir() string { return f.dir }

// Path returns the file that stores key.
func (f *FileDB) Path(key []byte) string {
	return filepath.Join(f.dir, url.PathEscape(string(key))+FileExt)
}

// KeyForPath maps a value file path back to its key. ok is false for files
// that FileDB did not write (temporary files, foreign files).
func (f *FileDB) KeyForPath(path string) (string, bool) {
	if filepath.Dir(path) != filepath.Clean(f.dir) {
		return "", false
	}
	name := filepath.Base(path)
	if !strings.HasSuffix(name, FileExt) || strings.HasPrefix(name, ".") {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, FileExt))
	if err != nil {
		return "", false
	}
	return key, true
}

func (f *FileDB) Put(key []byte, value []byte) error {
	target := f.Path(key)
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename %s: %w", key, err)
	}
	return nil
}

func (f *FileDB) Get(key []byte) ([]byte, error) {
	raw, err := os.ReadFile(f.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return raw, nil
}

func (f *FileDB) Delete(key []byte) error {
	err := os.Remove(f.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; FileDB holds no open handles between calls.
func (f *FileDB) Close() {}

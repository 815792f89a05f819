package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const DefaultFallbackPath = "db.json"

// FileFallbackStore persists the whole Database as one pretty-printed JSON
// document. Writes go to <path>.tmp and are renamed over the canonical file.
type FileFallbackStore struct {
	Path string

	mu sync.Mutex
}

func NewFileFallbackStore(path string) *FileFallbackStore {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultFallbackPath
	}
	return &FileFallbackStore{Path: path}
}

// Read returns ok=false when the file does not exist. Any other failure,
// including a corrupt document, is an error.
func (s *FileFallbackStore) Read() (Database, bool, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Database{}, false, nil
		}
		return Database{}, false, fmt.Errorf("%w: %v", ErrFallbackUnreadable, err)
	}
	db, err := decodeDatabase(data)
	if err != nil {
		return Database{}, false, fmt.Errorf("%w: %s: %v", ErrFallbackUnreadable, s.Path, err)
	}
	return db, true, nil
}

func (s *FileFallbackStore) Write(db Database) error {
	data, err := json.MarshalIndent(db.normalized(), "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	unlock, err := lockFile(s.Path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	tmp := s.Path + ".tmp"
	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.Path)
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// FileStore keeps one JSON file per incident, {dir}/{id}.json. The directory is
// created with mode 0700 on first save and files are written 0600.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the incidents directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes inc through a temp file and rename, so readers never observe a
// partial record.
func (s *FileStore) Save(ctx context.Context, inc Incident) error {
	if !validID(inc.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, inc.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(inc, "", "  ")
	if err != nil {
		return errors.Join(ErrSaveIncident, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Join(ErrSaveIncident, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".incident-*")
	if err != nil {
		return errors.Join(ErrSaveIncident, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Join(ErrSaveIncident, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Join(ErrSaveIncident, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(ErrSaveIncident, err)
	}
	if err := os.Rename(tmpName, s.path(inc.ID)); err != nil {
		return errors.Join(ErrSaveIncident, err)
	}
	return nil
}

// Get loads one incident.
func (s *FileStore) Get(ctx context.Context, id string) (Incident, error) {
	if !validID(id) {
		return Incident{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.path(id))
	s.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return Incident{}, ErrNotFound
	}
	if err != nil {
		return Incident{}, fmt.Errorf("read incident %s: %w", id, err)
	}

	var inc Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return Incident{}, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return inc, nil
}

// List scans the directory. Unreadable or foreign files are skipped.
func (s *FileStore) List(ctx context.Context, f Filter) ([]Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read incidents dir: %w", err)
	}

	var out []Incident
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := strings.CutSuffix(de.Name(), ".json")
		if de.IsDir() || !ok || !validID(id) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, de.Name()))
		if err != nil {
			continue
		}
		var inc Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			continue
		}
		if f.match(inc) {
			out = append(out, inc)
		}
	}

	slices.SortFunc(out, func(a, b Incident) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

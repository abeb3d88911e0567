package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Store is an arena of synthesized-audio files keyed by artifact id.
// Artifacts are write-once and reclaimed explicitly, either one by one
// or in bulk when a conversation is cleared.
type Store struct {
	dir string

	mu  sync.Mutex
	ids map[string]struct{}
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "aide-audio")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &Store{dir: dir, ids: make(map[string]struct{})}, nil
}

func (s *Store) Dir() string { return s.dir }

// Create allocates a new artifact and returns its id and an open file
// positioned for writing. The caller closes the file.
func (s *Store) Create() (string, *os.File, error) {
	id := uuid.NewString()
	f, err := os.Create(filepath.Join(s.dir, id+".wav"))
	if err != nil {
		return "", nil, fmt.Errorf("create artifact: %w", err)
	}
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
	return id, f, nil
}

// Path resolves a known artifact id to its file path. Unknown or already
// reclaimed ids report false; ids never touch the filesystem directly.
func (s *Store) Path(id string) (string, bool) {
	s.mu.Lock()
	_, ok := s.ids[id]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return filepath.Join(s.dir, id+".wav"), true
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	_, ok := s.ids[id]
	delete(s.ids, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, id+".wav")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact %s: %w", id, err)
	}
	return nil
}

// Clear reclaims every artifact in the arena.
func (s *Store) Clear() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	s.ids = make(map[string]struct{})
	s.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := os.Remove(filepath.Join(s.dir, id+".wav")); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

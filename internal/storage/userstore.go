package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrUserExists is returned by Register for an already-registered name.
var ErrUserExists = errors.New("storage: user already exists")

// ErrUserNotFound is returned when a name has no stored record.
var ErrUserNotFound = errors.New("storage: user not found")

// UserStore persists UserRecord values as one JSON file per user under
// <data_dir>/users/<name>.json.
type UserStore struct {
	dir string
	mu sync.Mutex
}

// NewUserStore ensures <data_dir>/users exists and returns a UserStore
// rooted there.
func NewUserStore(dataDir string) (*UserStore, error) {
	dir := filepath.Join(dataDir, "users")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create users dir: %w", err)
	}
	return &UserStore{dir: dir}, nil
}

func (s *UserStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Register creates a new user with a bcrypt-hashed password.
func (s *UserStore) Register(name, pass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(name)); err == nil {
		return ErrUserExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("storage: hash password: %w", err)
	}
	rec := UserRecord{Name: name, PasswordHash: string(hash), Level: 0, CreatedAt: time.Now()}
	return s.writeLocked(rec)
}

// Verify reports whether pass matches the stored hash for name.
func (s *UserStore) Verify(name, pass string) (bool, error) {
	rec, err := s.Get(name)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(pass))
	return err == nil, nil
}

// UpdatePassword replaces the stored hash for name.
func (s *UserStore) UpdatePassword(name, pass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.readLocked(name)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("storage: hash password: %w", err)
	}
	rec.PasswordHash = string(hash)
	return s.writeLocked(rec)
}

// UpdateLevel sets name's user_level (e.g. moderator/sysop promotion).
func (s *UserStore) UpdateLevel(name string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.readLocked(name)
	if err != nil {
		return err
	}
	rec.Level = level
	return s.writeLocked(rec)
}

// SeedSysop creates a level=10 account named name with the given
// pre-hashed password, but only when the user store is currently empty —
// so restarts never clobber an operator's existing accounts, and a
// bbs.sysop_password_hash left in a long-running config has no further
// effect after the first boot.
func (s *UserStore) SeedSysop(name, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("storage: list users: %w", err)
	}
	if len(entries) > 0 {
		return nil
	}
	rec := UserRecord{Name: name, PasswordHash: passwordHash, Level: 10, CreatedAt: time.Now()}
	return s.writeLocked(rec)
}

// Get returns the stored record for name.
func (s *UserStore) Get(name string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(name)
}

func (s *UserStore) readLocked(name string) (UserRecord, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("storage: read user %q: %w", name, err)
	}
	var rec UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return UserRecord{}, fmt.Errorf("storage: decode user %q: %w", name, err)
	}
	return rec, nil
}

// writeLocked writes rec atomically via a temp file + rename, avoiding a
// torn write if the process is killed mid-save.
func (s *UserStore) writeLocked(rec UserRecord) error {
	data, err := json.MarshalIndent(rec, "", " ")
	if err != nil {
		return fmt.Errorf("storage: encode user %q: %w", rec.Name, err)
	}
	tmp := s.path(rec.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write user %q: %w", rec.Name, err)
	}
	return os.Rename(tmp, s.path(rec.Name))
}

// LoadTopics reads the ordered topic list from <data_dir>/topics.json,
// creating it (seeded with defaultTopics) if it doesn't yet exist, so a
// fresh data_dir always has a usable topic list on first run.
func LoadTopics(dataDir string) ([]string, error) {
	path := filepath.Join(dataDir, "topics.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: read topics: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		if err := writeTopics(path, defaultTopics); err != nil {
			return nil, err
		}
		return append([]string(nil), defaultTopics...), nil
	}
	var topics []string
	if err := json.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("storage: decode topics: %w", err)
	}
	if len(topics) == 0 {
		return append([]string(nil), defaultTopics...), nil
	}
	return topics, nil
}

func writeTopics(path string, topics []string) error {
	data, err := json.MarshalIndent(topics, "", " ")
	if err != nil {
		return fmt.Errorf("storage: encode topics: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write topics: %w", err)
	}
	return os.Rename(tmp, path)
}

package preference

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"player-backend/pkg/fileutil"
)

const (
	kvSep    = " => "
	kvFormat = "%s" + kvSep + "%s\n"
)

// Store remembers which lyric source a song resolved from, one
// "key => value" pair per line.
type Store struct {
	path string

	mu      sync.RWMutex
	entries map[string]string
}

// Open loads path, creating an empty store when the file does not exist.
// Malformed lines are skipped.
func Open(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]string)}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open preference file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		kv := strings.SplitN(scanner.Text(), kvSep, 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		s.entries[kv[0]] = kv[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read preference file %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Set records value for key and persists the whole store. Keys and values
// must not contain newlines.
func (s *Store) Set(key, value string) error {
	if strings.ContainsAny(key, "\n\r") || strings.ContainsAny(value, "\n\r") || strings.Contains(key, kvSep) {
		return fmt.Errorf("invalid preference entry %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok && old == value {
		return nil
	}
	s.entries[key] = value
	return s.flushLocked()
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, kvFormat, k, s.entries[k])
	}
	return fileutil.WriteFileOverwrite(s.path, []byte(sb.String()), 0o644)
}

package agentconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ResourceStore is a full-replace JSON document, one file per resource
// type, matching spec §6's on-disk layout (terminals.json, notes.json,
// file-panes.json, ...). A subsequent reader sees either the old or the
// new content; writes go through a temp-file-then-rename so that holds
// even without platform-level atomic replace (spec §5).
type ResourceStore struct {
	mu   sync.Mutex
	path string
}

// NewResourceStore opens (without yet creating) the JSON document at
// <stateDir>/<name>.json.
func NewResourceStore(stateDir, name string) *ResourceStore {
	return &ResourceStore{path: filepath.Join(stateDir, name+".json")}
}

// Load decodes the current document into v. If the file does not exist,
// v is left untouched and no error is returned.
func (s *ResourceStore) Load(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Save full-replaces the document with v.
func (s *ResourceStore) Save(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o644)
}

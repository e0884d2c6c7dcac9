package claudestate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	sessionCorrTTL = 15 * time.Second
	tailScanBytes  = 16 * 1024
)

// DebugDir returns the directory Claude writes per-process debug logs
// into. Overridable in tests.
var DebugDir = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "debug")
}

type corrEntry struct {
	sessionID string // empty means a cached negative result
	expiresAt time.Time
}

// SessionCorrelator resolves a Claude process id to a session id by
// scanning debug log files, with a 15s cache including negative results
// (spec §4.3: "A null result is also cached to suppress repeated scans").
type SessionCorrelator struct {
	mu    sync.Mutex
	cache map[int]corrEntry
	now   func() time.Time
}

// NewSessionCorrelator creates an empty correlator.
func NewSessionCorrelator() *SessionCorrelator {
	return &SessionCorrelator{cache: make(map[int]corrEntry), now: time.Now}
}

// Resolve returns the session id for pid, or "" if none was found. Both
// outcomes are cached for sessionCorrTTL.
func (c *SessionCorrelator) Resolve(pid int) string {
	c.mu.Lock()
	if entry, ok := c.cache[pid]; ok && c.now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.sessionID
	}
	c.mu.Unlock()

	sessionID := c.scan(pid)

	c.mu.Lock()
	c.cache[pid] = corrEntry{sessionID: sessionID, expiresAt: c.now().Add(sessionCorrTTL)}
	c.mu.Unlock()

	return sessionID
}

func (c *SessionCorrelator) scan(pid int) string {
	dir := DebugDir()
	if dir == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })

	needle := []byte(fmt.Sprintf("tmp.%d.", pid))
	for _, cand := range candidates {
		if tailContains(cand.path, needle) {
			return strings.TrimSuffix(filepath.Base(cand.path), ".txt")
		}
	}
	return ""
}

// tailContains reads only the last tailScanBytes of path and reports
// whether needle occurs in it.
func tailContains(path string, needle []byte) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return false
	}

	size := stat.Size()
	readSize := int64(tailScanBytes)
	if size < readSize {
		readSize = size
	}
	buf := make([]byte, readSize)
	if _, err := f.ReadAt(buf, size-readSize); err != nil {
		return false
	}
	return bytes.Contains(buf, needle)
}

package localservice

import (
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ScanCache memoizes a full-roots repository scan and invalidates it when
// fsnotify reports a change in any of the watched root directories. The
// watch is not recursive: only entries changing directly inside a root
// invalidate the cache; changes deeper in the tree do not. A client
// re-listing repositories right after the last scan doesn't pay for
// another walk down into node_modules-sized trees (spec §4.5: the scan
// walk itself is unchanged, this only decides when to re-run it).
type ScanCache struct {
	mu       sync.Mutex
	roots    []string
	records  []RepoRecord
	valid    bool
	watcher  *fsnotify.Watcher
	watching map[string]bool
}

// NewScanCache starts a watcher on roots. If the watcher can't be created
// (e.g. too many open files), the cache still works, it just never
// short-circuits a scan.
func NewScanCache(roots []string) *ScanCache {
	c := &ScanCache{roots: roots, watching: make(map[string]bool)}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("scancache: watcher unavailable, scanning every time: %v", err)
		return c
	}
	c.watcher = w
	for _, root := range roots {
		if err := w.Add(root); err != nil {
			log.Printf("scancache: watch %s: %v", root, err)
			continue
		}
		c.watching[root] = true
	}
	go c.invalidateOnEvent()
	return c
}

func (c *ScanCache) invalidateOnEvent() {
	for {
		select {
		case _, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.mu.Lock()
			c.valid = false
			c.mu.Unlock()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("scancache: watch error: %v", err)
		}
	}
}

// Scan returns the cached result if still valid, otherwise runs
// ScanRepositories and caches the result for next time.
func (c *ScanCache) Scan(emit func(RepoRecord)) ([]RepoRecord, error) {
	c.mu.Lock()
	if c.valid {
		records := c.records
		c.mu.Unlock()
		for _, r := range records {
			emit(r)
		}
		return records, nil
	}
	c.mu.Unlock()

	var found []RepoRecord
	err := ScanRepositories(c.roots, func(r RepoRecord) {
		found = append(found, r)
		emit(r)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.records = found
	c.valid = c.watcher != nil
	c.mu.Unlock()
	return found, nil
}

// Close stops the underlying watcher.
func (c *ScanCache) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}

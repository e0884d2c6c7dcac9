package localservice

import (
	"context"
	"os"
	"path/filepath"

	"github.com/getfinn/finn/internal/gitgraph"
)

const maxScanDepth = 4

// denylist is skipped outright during repository scan (spec §4.5).
var denylist = map[string]bool{
	"node_modules": true,
	".git":         true,
	".hg":          true,
	".svn":         true,
	".worktrees":   true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".cache":       true,
	".npm":         true,
	".yarn":        true,
	".claude":      true,
}

// RepoRecord is one discovered repository, emitted via scan:partial as
// the walk finds it.
type RepoRecord struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Branch string `json:"branch"`
}

// ScanRepositories walks roots up to maxScanDepth, streaming a RepoRecord
// through emit for each repository root found (spec §4.5). A directory
// that is itself a repo root is not recursed into further, since nested
// git repos inside it would be someone else's nested project, not a
// worktree of this one.
func ScanRepositories(roots []string, emit func(RepoRecord)) error {
	visited := make(map[string]bool)
	for _, root := range roots {
		if err := scanDir(root, 0, visited, emit); err != nil {
			continue // unreadable root: skip, don't abort the whole scan
		}
	}
	return nil
}

func scanDir(dir string, depth int, visited map[string]bool, emit func(RepoRecord)) error {
	if depth > maxScanDepth {
		return nil
	}

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if visited[resolved] {
		return nil
	}
	visited[resolved] = true

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if denylist[name] {
			continue
		}

		childPath := filepath.Join(resolved, name)
		gitPath := filepath.Join(childPath, ".git")
		if info, err := os.Stat(gitPath); err == nil && info.IsDir() {
			branch, _ := gitgraph.NewRepository(childPath).CurrentBranch(context.Background())
			emit(RepoRecord{Path: childPath, Name: name, Branch: branch})
			continue // repo roots are not recursed into further
		}

		scanDir(childPath, depth+1, visited, emit)
	}

	return nil
}

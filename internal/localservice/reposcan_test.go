package localservice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanRepositories_FindsRepoAndSkipsDenylistedDirs(t *testing.T) {
	root := t.TempDir()

	repoDir := filepath.Join(root, "myrepo")
	require.NoError(t, os.MkdirAll(filepath.Join(repoDir, ".git"), 0o755))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))

	var found []RepoRecord
	err := ScanRepositories([]string{root}, func(r RepoRecord) {
		found = append(found, r)
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "myrepo", found[0].Name)
}

func TestScanRepositories_DoesNotRecurseIntoRepoRoot(t *testing.T) {
	root := t.TempDir()
	repoDir := filepath.Join(root, "outer")
	require.NoError(t, os.MkdirAll(filepath.Join(repoDir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(repoDir, "nested", ".git"), 0o755))

	var found []RepoRecord
	require.NoError(t, ScanRepositories([]string{root}, func(r RepoRecord) {
		found = append(found, r)
	}))
	require.Len(t, found, 1)
	require.Equal(t, "outer", found[0].Name)
}

func TestScanRepositories_TreatsGitFileAsWorktreeNotRepoRoot(t *testing.T) {
	root := t.TempDir()
	worktreeDir := filepath.Join(root, "worktree")
	require.NoError(t, os.MkdirAll(worktreeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(worktreeDir, ".git"), []byte("gitdir: /elsewhere"), 0o644))

	var found []RepoRecord
	require.NoError(t, ScanRepositories([]string{root}, func(r RepoRecord) {
		found = append(found, r)
	}))
	require.Empty(t, found)
}

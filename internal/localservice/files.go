package localservice

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExpandHome resolves a leading "~" to the user's home directory (spec
// §4.5: "All paths starting with ~ are expanded to the user's home").
func ExpandHome(path string) (string, error) {
	if path == "~" {
		return os.UserHomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// DirEntry is one listed directory entry.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

// ListDirectory lists a directory's entries, hiding dotfiles unless
// showHidden is set, directories sorted before files, each group
// alphabetical (spec §4.5).
func ListDirectory(path string, showHidden bool) ([]DirEntry, error) {
	resolved, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", resolved, err)
	}

	var dirs, files []DirEntry
	for _, e := range entries {
		if !showHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		entry := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
		if e.IsDir() {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return append(dirs, files...), nil
}

// ReadFile reads a path-backed file's content, expanding ~.
func ReadFile(path string) ([]byte, error) {
	resolved, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved)
}

// WriteFile writes content to a path-backed file, expanding ~. Virtual
// file panes never call this; their content lives in the pane record
// (spec §4.5: "write of a virtual file pane stores content in the pane
// record").
func WriteFile(path string, content []byte) error {
	resolved, err := ExpandHome(path)
	if err != nil {
		return err
	}
	return os.WriteFile(resolved, content, 0o644)
}

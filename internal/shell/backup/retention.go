package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Prune deletes archives older than maxAge and, after that, the oldest
// archives beyond maxCount. Zero disables the respective limit. It returns
// the paths it removed.
func (a *Archiver) Prune(maxAge time.Duration, maxCount int) ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	type archiveFile struct {
		path    string
		modTime time.Time
	}
	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, archiveFile{
			path:    filepath.Join(a.dir, e.Name()),
			modTime: info.ModTime(),
		})
	}
	// Newest first.
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	var removed []string
	cutoff := time.Now().Add(-maxAge)
	kept := 0
	for _, f := range files {
		expired := maxAge > 0 && f.modTime.Before(cutoff)
		overCount := maxCount > 0 && kept >= maxCount
		if expired || overCount {
			if err := os.Remove(f.path); err != nil {
				return removed, fmt.Errorf("remove %s: %w", f.path, err)
			}
			removed = append(removed, f.path)
			continue
		}
		kept++
	}
	if len(removed) > 0 {
		a.logger.Info("pruned archives", "removed", len(removed), "kept", kept)
	}
	return removed, nil
}

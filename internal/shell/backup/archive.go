// Package backup archives configuration and data directories, captures
// database dumps from running containers, prunes old archives, and
// optionally uploads archives offsite.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archive describes a completed backup archive.
type Archive struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"` // hex sha256
	CreatedAt time.Time `json:"created_at"`
}

// Archiver writes tar.gz archives into a backup directory.
type Archiver struct {
	dir    string
	logger *slog.Logger
}

// NewArchiver creates an archiver rooted at dir.
func NewArchiver(dir string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{dir: dir, logger: logger.With("component", "backup")}
}

// Dir returns the backup directory.
func (a *Archiver) Dir() string { return a.dir }

// Create archives the source paths (files or directories) into a timestamped
// tar.gz named after scope. Sources that do not exist are skipped; at least
// one must exist.
func (a *Archiver) Create(ctx context.Context, scope string, sources []string) (arch *Archive, retErr error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	now := time.Now().UTC()
	path := filepath.Join(a.dir, fmt.Sprintf("%s-%s.tar.gz", scope, now.Format("20060102_150405")))

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()
	// Retention counts every file in the directory; partial archives must not survive.
	defer func() {
		if retErr != nil {
			os.Remove(path)
		}
	}()

	hash := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(f, hash))
	tw := tar.NewWriter(gz)

	added := 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			a.logger.Warn("backup source missing, skipping", "source", src)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", src, err)
		}
		if info.IsDir() {
			n, err := a.addDir(tw, src)
			if err != nil {
				return nil, err
			}
			added += n
		} else {
			if err := a.addFile(tw, src, filepath.Base(src)); err != nil {
				return nil, err
			}
			added++
		}
	}
	if added == 0 {
		return nil, fmt.Errorf("no backup sources exist")
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	arch = &Archive{
		Path:      path,
		SizeBytes: stat.Size(),
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
		CreatedAt: now,
	}
	a.logger.Info("archive created", "path", path, "size_bytes", arch.SizeBytes, "entries", added)
	return arch, nil
}

func (a *Archiver) addDir(tw *tar.Writer, dir string) (int, error) {
	base := filepath.Base(dir)
	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if err := a.addFile(tw, path, filepath.ToSlash(filepath.Join(base, rel))); err != nil {
			return err
		}
		added++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("archive %s: %w", dir, err)
	}
	return added, nil
}

func (a *Archiver) addFile(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = strings.TrimPrefix(name, "/")
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	return nil
}

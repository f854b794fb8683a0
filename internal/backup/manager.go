// Package backup produces compressed snapshots of the file-backed record
// store and prunes old ones. Snapshots are an operational safety net for
// the flat-file backend; deployments on PostgreSQL use database-level
// backups instead.
package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/sowhat82/cravemap/internal/types"
)

const (
	snapshotPrefix = "records-"
	snapshotSuffix = ".tar.gz"
	// snapshotStamp formats the snapshot timestamp in a lexically sortable
	// way so retention can sort by filename.
	snapshotStamp = "20060102T150405Z"
)

// Manager snapshots a source directory of record files into a backup
// directory.
type Manager struct {
	sourceDir string
	backupDir string
	retain    int
	logger    *slog.Logger
}

// NewManager creates a Manager retaining the newest retain snapshots.
func NewManager(sourceDir, backupDir string, retain int, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to create backup directory", err)
	}
	return &Manager{
		sourceDir: sourceDir,
		backupDir: backupDir,
		retain:    retain,
		logger:    logger,
	}, nil
}

// Snapshot writes a gzip-compressed tar of every JSON file in the source
// directory and prunes snapshots beyond the retention count. It returns the
// path of the snapshot it created.
func (m *Manager) Snapshot(ctx context.Context, now time.Time) (string, error) {
	name := snapshotPrefix + now.UTC().Format(snapshotStamp) + snapshotSuffix
	path := filepath.Join(m.backupDir, name)

	if err := m.writeArchive(ctx, path); err != nil {
		os.Remove(path)
		return "", err
	}

	if err := m.prune(); err != nil {
		// The snapshot itself succeeded; log the pruning failure and move on.
		m.logger.Warn("failed to prune old snapshots",
			"error", err.Error(),
		)
	}

	m.logger.Info("record store snapshot written",
		"path", path,
	)
	return path, nil
}

func (m *Manager) writeArchive(ctx context.Context, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to create snapshot file", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	entries, err := os.ReadDir(m.sourceDir)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to list record files", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := m.addFile(tw, entry.Name()); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to finalize snapshot archive", err)
	}
	if err := gz.Close(); err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to finalize snapshot compression", err)
	}
	return out.Sync()
}

func (m *Manager) addFile(tw *tar.Writer, name string) error {
	path := filepath.Join(m.sourceDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			fmt.Sprintf("failed to stat %s", name), err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			fmt.Sprintf("failed to build header for %s", name), err)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			fmt.Sprintf("failed to write header for %s", name), err)
	}

	f, err := os.Open(path)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			fmt.Sprintf("failed to open %s", name), err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			fmt.Sprintf("failed to archive %s", name), err)
	}
	return nil
}

// List returns the snapshot filenames, newest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStoreUnavailable,
			"failed to list snapshots", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, snapshotPrefix) && strings.HasSuffix(name, snapshotSuffix) {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// prune removes snapshots beyond the retention count, oldest first.
func (m *Manager) prune() error {
	if m.retain <= 0 {
		return nil
	}
	names, err := m.List()
	if err != nil {
		return err
	}
	for _, name := range names[min(m.retain, len(names)):] {
		if err := os.Remove(filepath.Join(m.backupDir, name)); err != nil {
			return err
		}
		m.logger.Info("old snapshot removed",
			"name", name,
		)
	}
	return nil
}

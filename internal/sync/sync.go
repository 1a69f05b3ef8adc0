package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schaermu/tunesync/internal/adb"
	"github.com/schaermu/tunesync/internal/config"
	"github.com/schaermu/tunesync/internal/convert"
	"github.com/schaermu/tunesync/internal/library"
)

// Engine orchestrates one synchronization pass against a mounted device.
// It is stateless across runs; everything is recomputed per Run.
type Engine struct {
	cfg       *config.Config
	mountDir  string
	scanner   *library.Scanner
	lister    adb.Lister
	converter convert.Converter
	logger    *slog.Logger
	dryRun    bool
}

// NewEngine creates a new sync engine working below mountDir.
func NewEngine(cfg *config.Config, mountDir string, scanner *library.Scanner, lister adb.Lister, converter convert.Converter, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:       cfg,
		mountDir:  mountDir,
		scanner:   scanner,
		lister:    lister,
		converter: converter,
		logger:    logger,
		dryRun:    dryRun,
	}
}

// Run executes the complete sync pass: scan the library, snapshot the
// device, remove orphaned device entries deepest-first, then create and
// update in scan order. Deletions finish before the first creation starts.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting sync",
		"library", e.cfg.Library.Root,
		"device_root", e.cfg.DeviceMusicRoot(),
		"dry_run", e.dryRun)

	// Scan the local library
	units, err := e.scanner.Scan(e.cfg.Library.Root)
	if err != nil {
		return fmt.Errorf("failed to scan library: %w", err)
	}
	e.logger.Info("library scanned", "units", len(units))

	// Snapshot the device
	remote, err := e.snapshotRemote(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate device files: %w", err)
	}
	e.logger.Info("device snapshot complete", "entries", len(remote))

	// Delete device entries with no local counterpart. Children sort after
	// their parent, so descending order empties directories before removal.
	doomed := orphanedPaths(units, remote)
	for _, path := range doomed {
		e.logger.Info("deleting", "path", path, "dry_run", e.dryRun)
		if e.dryRun {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}

	// Create and update in scan order; a directory unit always precedes its
	// contents.
	var synced, skipped int
	for _, unit := range units {
		stale, err := e.isStale(unit, remote)
		if err != nil {
			return err
		}
		if !stale {
			skipped++
			e.logger.Debug("up to date", "path", unit.RemotePath)
			continue
		}

		if unit.IsDir() {
			e.logger.Info("creating directory", "path", unit.RemotePath, "dry_run", e.dryRun)
			if !e.dryRun {
				if err := os.Mkdir(unit.RemotePath, 0755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", unit.RemotePath, err)
				}
			}
			synced++
			continue
		}

		e.logger.Info("syncing", "path", unit.RemotePath, "kind", unit.Kind.String(), "dry_run", e.dryRun)
		if !e.dryRun {
			if err := e.replaceFile(ctx, unit); err != nil {
				return err
			}
		}
		synced++
	}

	e.logger.Info("sync completed",
		"deleted", len(doomed),
		"synced", synced,
		"skipped", skipped,
		"dry_run", e.dryRun)
	return nil
}

// snapshotRemote lists every entry under the device music root and rebases
// the device-absolute paths onto the mount point, making them directly
// comparable with unit remote paths.
func (e *Engine) snapshotRemote(ctx context.Context) (map[string]time.Time, error) {
	entries, err := e.lister.ListAll(ctx, e.cfg.DeviceMusicRoot())
	if err != nil {
		return nil, err
	}

	remote := make(map[string]time.Time, len(entries))
	for _, entry := range entries {
		remote[e.mountPath(entry.Path)] = entry.MTime
	}
	return remote, nil
}

// mountPath rebases a device-absolute path onto the mount directory.
func (e *Engine) mountPath(devicePath string) string {
	return filepath.Join(e.mountDir, strings.TrimPrefix(devicePath, "/"))
}

// isStale reports whether a unit must be materialized: the device entry is
// missing entirely, or the local file was written after the device copy.
// Directories that exist on the device are never touched again.
func (e *Engine) isStale(unit library.Unit, remote map[string]time.Time) (bool, error) {
	mtime, ok := remote[unit.RemotePath]
	if !ok {
		return true, nil
	}
	if unit.IsDir() {
		return false, nil
	}

	info, err := os.Stat(unit.LocalPath)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", unit.LocalPath, err)
	}
	return info.ModTime().After(mtime), nil
}

// replaceFile materializes a file unit, removing any previous version first
// so a change in content kind never leaves stale bytes behind.
func (e *Engine) replaceFile(ctx context.Context, unit library.Unit) error {
	if _, err := os.Lstat(unit.RemotePath); err == nil {
		if err := os.Remove(unit.RemotePath); err != nil {
			return fmt.Errorf("failed to remove outdated %s: %w", unit.RemotePath, err)
		}
	}

	if err := e.converter.Convert(ctx, unit); err != nil {
		return fmt.Errorf("failed to sync %s: %w", unit.RemotePath, err)
	}
	return nil
}

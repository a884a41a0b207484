// Package archive writes finished runs to compressed, checksummed files and
// applies retention policies to the archive directory.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/meccsim/internal/store"
)

// FilePrefix and FileExt bracket every archive file name.
const (
	FilePrefix = "meccsim-run-"
	FileExt    = ".mrun.zst"
)

// GeneratePath creates a timestamped archive filename for a run.
func GeneratePath(dir string, runID string, now time.Time) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	ts := now.UTC().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("%s%s-%s%s", FilePrefix, ts, short, FileExt))
}

// Create archives a stored run into dir and returns the file path.
func Create(ctx context.Context, runs store.RunStore, runID, dir string) (string, *Header, error) {
	run, err := runs.GetRun(ctx, runID)
	if err != nil {
		return "", nil, err
	}
	path := GeneratePath(dir, run.ID, time.Now())
	header, err := Write(path, run)
	if err != nil {
		return "", nil, fmt.Errorf("writing archive: %w", err)
	}
	return path, header, nil
}

// Restore reads an archive and saves its run into runs. A run whose ID is
// already present is reported as skipped, not overwritten.
func Restore(ctx context.Context, runs store.RunStore, path string) (id string, skipped bool, err error) {
	run, _, err := Read(path)
	if err != nil {
		return "", false, err
	}
	if _, err := runs.GetRun(ctx, run.ID); err == nil {
		return run.ID, true, nil
	} else if !errors.Is(err, store.ErrRunNotFound) {
		return "", false, err
	}
	id, err = runs.SaveRun(ctx, run)
	if err != nil {
		return "", false, fmt.Errorf("restoring run: %w", err)
	}
	return id, false, nil
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// IngestDirectory walks root, skips hidden entries if requested, and submits every
// screenshot it finds. Returns per-file results and aggregate stats.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var (
		paths   []string
		results []FileResult
		scanned uint32
		failed  uint32
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return results, DirStats{Scanned: scanned, Failed: failed}, fmt.Errorf("walk: %w", err)
	}

	// stable batches regardless of directory order
	sort.Strings(paths)
	fileResults, stats, err := i.IngestPaths(ctx, paths)
	stats.Scanned = scanned
	stats.Failed += failed
	i.logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"batches", stats.Batches,
		"submitted", stats.Submitted,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return append(results, fileResults...), stats, err
}

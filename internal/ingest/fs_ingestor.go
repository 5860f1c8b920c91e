package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
)

// FSIngestor reads screenshots from the local filesystem and submits them as batches
// on behalf of one user.
type FSIngestor struct {
	submitter   Submitter
	userID      string
	maxPerBatch int
	maxBytes    int64
	opts        pipeline.Options
	logger      *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time // path -> mod time already submitted
}

type Option func(*FSIngestor)

func WithMaxPerBatch(n int) Option {
	return func(i *FSIngestor) {
		if n > 0 {
			i.maxPerBatch = n
		}
	}
}

func WithMaxBytes(n int64) Option {
	return func(i *FSIngestor) {
		if n > 0 {
			i.maxBytes = n
		}
	}
}

func WithOptions(o pipeline.Options) Option { return func(i *FSIngestor) { i.opts = o } }

func NewFSIngestor(s Submitter, userID string, logger *slog.Logger, opts ...Option) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	i := &FSIngestor{
		submitter:   s,
		userID:      userID,
		maxPerBatch: pipeline.DefaultMaxImages,
		maxBytes:    pipeline.DefaultMaxImageBytes,
		logger:      logger,
		seen:        make(map[string]time.Time),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IngestPaths submits the given files, maxPerBatch at a time. Files already submitted
// with the same modification time are skipped.
func (i *FSIngestor) IngestPaths(ctx context.Context, paths []string) ([]FileResult, DirStats, error) {
	var (
		results []FileResult
		stats   DirStats
		uploads []pipeline.Upload
		pending []string
		mods    []time.Time
	)

	flush := func() error {
		if len(uploads) == 0 {
			return nil
		}
		id, err := i.submitter.Submit(ctx, i.userID, uploads, i.opts)
		stats.Batches++
		if err != nil {
			i.logger.Error("ingest.batch.submit_failed", "files", len(pending), "error", err)
			for _, p := range pending {
				results = append(results, FileResult{Path: p, Err: err.Error()})
				stats.Failed++
			}
		} else {
			i.logger.Info("ingest.batch.submitted", "batch_id", id, "files", len(pending))
			i.mu.Lock()
			for k, p := range pending {
				i.seen[p] = mods[k]
				results = append(results, FileResult{Path: p, BatchID: id})
				stats.Submitted++
			}
			i.mu.Unlock()
		}
		uploads, pending, mods = nil, nil, nil
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			return results, stats, ctx.Err()
		}
		stats.Matched++
		data, mod, err := i.read(path)
		switch {
		case errors.Is(err, errUnchanged):
			results = append(results, FileResult{Path: path, Skipped: true})
			stats.Skipped++
			continue
		case err != nil:
			i.logger.Warn("ingest.file.skipped", "path", path, "error", err)
			results = append(results, FileResult{Path: path, Err: err.Error()})
			stats.Failed++
			continue
		}
		uploads = append(uploads, pipeline.Upload{Name: filepath.Base(path), Data: data})
		pending = append(pending, path)
		mods = append(mods, mod)
		if len(uploads) == i.maxPerBatch {
			if err := flush(); err != nil {
				return results, stats, err
			}
		}
	}
	return results, stats, flush()
}

var errUnchanged = errors.New("already submitted")

func (i *FSIngestor) read(path string) ([]byte, time.Time, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("abs path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !info.Mode().IsRegular() {
		return nil, time.Time{}, fmt.Errorf("not a regular file")
	}
	if !AllowedExt(filepath.Ext(abs)) {
		return nil, time.Time{}, fmt.Errorf("unsupported extension %q", filepath.Ext(abs))
	}
	if info.Size() > i.maxBytes {
		return nil, time.Time{}, fmt.Errorf("file is %d bytes, limit %d", info.Size(), i.maxBytes)
	}
	i.mu.Lock()
	prev, ok := i.seen[path]
	i.mu.Unlock()
	if ok && prev.Equal(info.ModTime()) {
		return nil, time.Time{}, errUnchanged
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !LooksLikeImage(data) {
		return nil, time.Time{}, fmt.Errorf("content is not an image")
	}
	return data, info.ModTime(), nil
}

// BatchIDs lists the distinct batches in results, in submission order.
func BatchIDs(results []FileResult) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, r := range results {
		if r.BatchID == uuid.Nil {
			continue
		}
		if _, ok := seen[r.BatchID]; !ok {
			seen[r.BatchID] = struct{}{}
			out = append(out, r.BatchID)
		}
	}
	return out
}

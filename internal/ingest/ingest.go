package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
)

// FileResult is the per-file ingest outcome.
type FileResult struct {
	Path    string
	BatchID uuid.UUID
	Skipped bool
	Err     string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Batches   uint32
	Submitted uint32
	Skipped   uint32
	Failed    uint32
}

// Submitter is the coordinator entry point the folder ingestor feeds.
type Submitter interface {
	Submit(ctx context.Context, userID string, uploads []pipeline.Upload, opts pipeline.Options) (uuid.UUID, error)
}

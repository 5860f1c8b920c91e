package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
)

// Ingestion is the coordinator surface both transports expose.
type Ingestion interface {
	Submit(ctx context.Context, userID string, uploads []pipeline.Upload, opts pipeline.Options) (uuid.UUID, error)
	GetBatchStatus(ctx context.Context, userID string, batchID uuid.UUID) (pipeline.Status, error)
	Watch(userID string, batchID uuid.UUID) (pipeline.Status, <-chan pipeline.Status, func(), error)
	ConfirmDuplicate(ctx context.Context, userID string, batchID, candidateID uuid.UUID, proceed bool) (pipeline.Status, error)
	CancelBatch(ctx context.Context, userID string, batchID uuid.UUID) (pipeline.Status, error)
	GetCreditBalance(ctx context.Context, userID string) (entity.Balance, error)
}

// Exporter renders the audit workbook.
type Exporter interface {
	ExportXLSX(ctx context.Context, userID string, since time.Time) ([]byte, error)
}

// balanceView is the wire form of a credit balance.
type balanceView struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Available int `json:"available"`
}

func viewBalance(b entity.Balance) balanceView {
	return balanceView{Used: b.Used, Limit: b.Limit, Available: b.Available()}
}

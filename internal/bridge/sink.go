package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/yourorg/dspace-bridge/dspace"
	"github.com/yourorg/dspace-bridge/internal/metrics"
	"github.com/yourorg/dspace-bridge/internal/search"
	"github.com/yourorg/dspace-bridge/internal/store"
	"github.com/yourorg/dspace-bridge/internal/transform"
)

// Uploader sends one finished document to the search index.
type Uploader interface {
	Upload(ctx context.Context, doc json.Marshaler) (search.Result, error)
}

// Ledger records runs and item snapshots. *store.Store implements it.
type Ledger interface {
	BeginRun(ctx context.Context, id string, day time.Time, dryRun bool) error
	FinishRun(ctx context.Context, rec store.RunRecord) error
	WriteSnapshot(ctx context.Context, in store.SnapshotInput) error
}

// Sink hands transformed documents to the index and keeps snapshots when a
// ledger is configured.
type Sink struct {
	Index  Uploader
	Ledger Ledger
	DryRun bool
	Logger *slog.Logger
}

func (s *Sink) Enabled() bool { return s != nil && (s.Index != nil || s.DryRun) }

// Write uploads doc unless the sink runs dry. A failed upload is returned so
// the caller can count it; it is never retried.
func (s *Sink) Write(ctx context.Context, runID string, item dspace.Item, doc *transform.Document) error {
	logger := s.logger()
	docJSON, err := doc.MarshalJSON()
	if err != nil {
		metrics.Item(metrics.StageUpload, metrics.OutcomeFailed)
		s.snapshot(ctx, runID, item, nil, store.OutcomeUploadFailed, "", err)
		return err
	}
	if s.DryRun {
		metrics.Item(metrics.StageUpload, metrics.OutcomeSkipped)
		logger.Debug("dry run, upload skipped", "uuid", item.UUID, "fields", doc.Len())
		s.snapshot(ctx, runID, item, docJSON, store.OutcomeDryRun, "", nil)
		return nil
	}
	if s.Index == nil {
		return errors.New("sink has no index client")
	}
	res, err := s.Index.Upload(ctx, doc)
	if err != nil {
		metrics.Item(metrics.StageUpload, metrics.OutcomeFailed)
		logger.Error("upload failed", "uuid", item.UUID, "error", err)
		s.snapshot(ctx, runID, item, docJSON, store.OutcomeUploadFailed, "", err)
		return err
	}
	metrics.Item(metrics.StageUpload, metrics.OutcomeOK)
	logger.Info("record uploaded", "uuid", item.UUID, "index_id", res.ID, "result", res.Result)
	s.snapshot(ctx, runID, item, docJSON, store.OutcomeUploaded, res.ID, nil)
	return nil
}

// Reject records an item that could not be transformed.
func (s *Sink) Reject(ctx context.Context, runID string, item dspace.Item, cause error) {
	s.snapshot(ctx, runID, item, nil, store.OutcomeTransformFailed, "", cause)
}

func (s *Sink) snapshot(ctx context.Context, runID string, item dspace.Item, docJSON []byte, outcome, indexID string, cause error) {
	if s.Ledger == nil || runID == "" {
		return
	}
	payload, err := json.Marshal(item)
	if err != nil {
		s.logger().Warn("snapshot encode failed", "uuid", item.UUID, "error", err)
		return
	}
	in := store.SnapshotInput{
		RunID:        runID,
		ItemUUID:     item.UUID,
		LastModified: item.LastModified,
		PayloadJSON:  payload,
		DocumentJSON: docJSON,
		Outcome:      outcome,
		IndexID:      indexID,
	}
	if cause != nil {
		in.Error = cause.Error()
	}
	if err := s.Ledger.WriteSnapshot(ctx, in); err != nil {
		s.logger().Warn("snapshot write failed", "uuid", item.UUID, "error", err)
	}
}

func (s *Sink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

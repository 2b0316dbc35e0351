package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store keeps the run ledger and raw item snapshots in Postgres.
type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{DB: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS etl_runs (
            id              UUID PRIMARY KEY,
            run_date        DATE NOT NULL,
            state           TEXT NOT NULL,
            dry_run         BOOLEAN NOT NULL DEFAULT false,
            pages           INT NOT NULL DEFAULT 0,
            fetched         INT NOT NULL DEFAULT 0,
            transformed     INT NOT NULL DEFAULT 0,
            transform_failed INT NOT NULL DEFAULT 0,
            uploaded        INT NOT NULL DEFAULT 0,
            upload_failed   INT NOT NULL DEFAULT 0,
            last_error      TEXT,
            started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
            finished_at     TIMESTAMPTZ
        );`,
		`CREATE INDEX IF NOT EXISTS idx_etl_runs_started ON etl_runs(started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_etl_runs_date ON etl_runs(run_date);`,
		`CREATE TABLE IF NOT EXISTS item_snapshots (
            id              BIGSERIAL PRIMARY KEY,
            run_id          UUID NOT NULL REFERENCES etl_runs(id) ON DELETE CASCADE,
            item_uuid       TEXT NOT NULL,
            last_modified   TEXT,
            payload         JSONB NOT NULL,
            payload_sha256  TEXT NOT NULL,
            document        JSONB,
            outcome         TEXT NOT NULL,
            index_id        TEXT,
            error           TEXT,
            fetched_at      TIMESTAMPTZ NOT NULL DEFAULT now()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_item ON item_snapshots(item_uuid, fetched_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run ON item_snapshots(run_id);`,
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Run states recorded in etl_runs.state.
const (
	RunStateRunning   = "running"
	RunStateSucceeded = "succeeded"
	RunStateFailed    = "failed"
)

// RunRecord mirrors one etl_runs row.
type RunRecord struct {
	ID              string         `json:"id"`
	RunDate         time.Time      `json:"run_date"`
	State           string         `json:"state"`
	DryRun          bool           `json:"dry_run"`
	Pages           int            `json:"pages"`
	Fetched         int            `json:"fetched"`
	Transformed     int            `json:"transformed"`
	TransformFailed int            `json:"transform_failed"`
	Uploaded        int            `json:"uploaded"`
	UploadFailed    int            `json:"upload_failed"`
	LastError       sql.NullString `json:"-"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      sql.NullTime   `json:"-"`
}

func (s *Store) BeginRun(ctx context.Context, id string, day time.Time, dryRun bool) error {
	if s.DB == nil {
		return errors.New("nil db")
	}
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO etl_runs (id, run_date, state, dry_run) VALUES ($1, $2, $3, $4)`,
		id, day.Format("2006-01-02"), RunStateRunning, dryRun)
	return err
}

func (s *Store) FinishRun(ctx context.Context, rec RunRecord) error {
	if s.DB == nil {
		return errors.New("nil db")
	}
	_, err := s.DB.ExecContext(ctx, `
        UPDATE etl_runs SET state=$2, pages=$3, fetched=$4, transformed=$5, transform_failed=$6,
            uploaded=$7, upload_failed=$8, last_error=$9, finished_at=now()
        WHERE id=$1`,
		rec.ID, rec.State, rec.Pages, rec.Fetched, rec.Transformed, rec.TransformFailed,
		rec.Uploaded, rec.UploadFailed, rec.LastError)
	return err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT id, run_date, state, dry_run, pages, fetched, transformed, transform_failed,
               uploaded, upload_failed, last_error, started_at, finished_at
        FROM etl_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.RunDate, &r.State, &r.DryRun, &r.Pages, &r.Fetched, &r.Transformed,
			&r.TransformFailed, &r.Uploaded, &r.UploadFailed, &r.LastError, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Snapshot outcomes.
const (
	OutcomeUploaded        = "uploaded"
	OutcomeUploadFailed    = "upload_failed"
	OutcomeTransformFailed = "transform_failed"
	OutcomeDryRun          = "dry_run"
)

// SnapshotInput is one fetched item with what happened to it.
type SnapshotInput struct {
	RunID        string
	ItemUUID     string
	LastModified string
	PayloadJSON  []byte
	DocumentJSON []byte
	Outcome      string
	IndexID      string
	Error        string
}

func (s *Store) WriteSnapshot(ctx context.Context, in SnapshotInput) error {
	if s.DB == nil {
		return errors.New("nil db")
	}
	sum := sha256.Sum256(in.PayloadJSON)
	var doc any
	if len(in.DocumentJSON) > 0 {
		doc = string(in.DocumentJSON)
	}
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO item_snapshots (run_id, item_uuid, last_modified, payload, payload_sha256, document, outcome, index_id, error)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		in.RunID, in.ItemUUID, in.LastModified, string(in.PayloadJSON), hex.EncodeToString(sum[:]),
		doc, in.Outcome, nullString(in.IndexID), nullString(in.Error))
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

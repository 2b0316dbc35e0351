package bridge

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Summary is the end-of-run report: what was fetched, transformed and uploaded.
type Summary struct {
	RunID           string    `json:"run_id"`
	Day             string    `json:"day"`
	DryRun          bool      `json:"dry_run"`
	Pages           int       `json:"pages"`
	Fetched         int       `json:"fetched"`
	Transformed     int       `json:"transformed"`
	TransformFailed int       `json:"transform_failed"`
	Uploaded        int       `json:"uploaded"`
	UploadFailed    int       `json:"upload_failed"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Error           string    `json:"error,omitempty"`
}

// Failed is the number of items that did not reach the index.
func (s *Summary) Failed() int { return s.TransformFailed + s.UploadFailed }

// Duration is the wall time of the run, or zero while it is still running.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// LogValue implements slog.LogValuer.
func (s *Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run_id", s.RunID),
		slog.String("day", s.Day),
		slog.Bool("dry_run", s.DryRun),
		slog.Int("pages", s.Pages),
		slog.Int("fetched", s.Fetched),
		slog.Int("transformed", s.Transformed),
		slog.Int("transform_failed", s.TransformFailed),
		slog.Int("uploaded", s.Uploaded),
		slog.Int("upload_failed", s.UploadFailed),
		slog.Duration("duration", s.Duration()),
	}
	if s.Error != "" {
		attrs = append(attrs, slog.String("error", s.Error))
	}
	return slog.GroupValue(attrs...)
}

// JSON renders the summary; it cannot fail for this type.
func (s *Summary) JSON() json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

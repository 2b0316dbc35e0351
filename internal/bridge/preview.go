package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/dspace-bridge/internal/transform"
)

// PreviewItem is one transformed item as returned by Preview. Document is nil
// when the item failed to transform.
type PreviewItem struct {
	UUID     string              `json:"uuid"`
	Document *transform.Document `json:"document,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Preview fetches a single page for day and transforms it without uploading
// or touching the ledger.
func (j *Job) Preview(ctx context.Context, day time.Time, limit, offset int) ([]PreviewItem, error) {
	if j.Source == nil || j.Transformer == nil {
		return nil, errors.New("preview requires a source and a transformer")
	}
	if _, err := j.Source.Login(ctx); err != nil {
		return nil, err
	}
	defer func() {
		_ = j.Source.Logout(context.WithoutCancel(ctx))
	}()

	filter := j.DayFilter(day)
	if limit > 0 {
		filter.Limit = limit
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	filter.Offset = offset
	if filter.Expand == "" {
		filter.Expand = "all"
	}
	if filter.QueryField == "" {
		filter.QueryField, filter.QueryOp = "lastModified", "like"
	}
	items, err := j.Source.FetchPage(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]PreviewItem, len(items))
	for i, res := range j.transformPage(ctx, items) {
		out[i] = PreviewItem{UUID: items[i].UUID, Document: res.doc}
		if res.err != nil {
			out[i].Error = res.err.Error()
		}
	}
	return out, nil
}

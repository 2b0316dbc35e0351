// Package bridge runs the harvest: page through the repository, flatten every
// item, and send each document to the search index.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/dspace-bridge/dspace"
	"github.com/yourorg/dspace-bridge/internal/events"
	"github.com/yourorg/dspace-bridge/internal/metrics"
	"github.com/yourorg/dspace-bridge/internal/store"
	"github.com/yourorg/dspace-bridge/internal/transform"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when another run holds the lock for the same day.
var ErrRunInProgress = errors.New("a run for this day is already in progress")

// Source supplies raw items. *dspace.Client implements it.
type Source interface {
	Login(ctx context.Context) (dspace.Status, error)
	Logout(ctx context.Context) error
	FetchPage(ctx context.Context, f dspace.Filter) ([]dspace.Item, error)
}

// Transformer flattens one item. *transform.Transformer implements it.
type Transformer interface {
	Transform(ctx context.Context, item dspace.Item) (*transform.Document, error)
}

// Locker guards against overlapping runs across processes. *redisx.Client implements it.
type Locker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type Config struct {
	PageSize   int
	MaxPages   int
	PagePause  time.Duration
	Expand     string
	QueryField string
	QueryOp    string
	Workers    int
	Strict     bool
	DryRun     bool
	Interval   time.Duration
	LockTTL    time.Duration
}

type Job struct {
	Source      Source
	Transformer Transformer
	Sink        *Sink
	Ledger      Ledger
	Locker      Locker
	Pub         events.Publisher
	Logger      *slog.Logger
	Config      Config
	Now         func() time.Time
}

func (j *Job) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *Job) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j *Job) validate() error {
	if j == nil {
		return errors.New("nil bridge job")
	}
	if j.Source == nil {
		return errors.New("bridge job missing source")
	}
	if j.Transformer == nil {
		return errors.New("bridge job missing transformer")
	}
	if j.Sink == nil {
		j.Sink = &Sink{}
	}
	if j.Config.DryRun {
		j.Sink.DryRun = true
	}
	if !j.Sink.Enabled() {
		return errors.New("bridge job requires an index client unless running dry")
	}
	if j.Sink.Logger == nil {
		j.Sink.Logger = j.Logger
	}
	if j.Sink.Ledger == nil {
		j.Sink.Ledger = j.Ledger
	}
	if j.Config.PageSize <= 0 {
		j.Config.PageSize = 50
	}
	if j.Config.Workers <= 0 {
		j.Config.Workers = 1
	}
	if j.Config.Expand == "" {
		j.Config.Expand = "all"
	}
	if j.Config.QueryField == "" {
		j.Config.QueryField = "lastModified"
	}
	if j.Config.QueryOp == "" {
		j.Config.QueryOp = "like"
	}
	if j.Config.LockTTL <= 0 {
		j.Config.LockTTL = 6 * time.Hour
	}
	return nil
}

// Run harvests yesterday once, then again every Interval until ctx is done.
// Without an interval it behaves like RunOnce.
func (j *Job) Run(ctx context.Context) error {
	if err := j.validate(); err != nil {
		return err
	}
	interval := j.Config.Interval
	if interval <= 0 {
		_, err := j.RunOnce(ctx)
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	j.logger().Info("bridge job starting", "interval", interval)
	if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		j.logger().Error("bridge job initial run error", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			j.logger().Info("bridge job stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				j.logger().Error("bridge job iteration error", "error", err)
			}
		}
	}
}

// RunOnce harvests the items touched yesterday.
func (j *Job) RunOnce(ctx context.Context) (*Summary, error) {
	return j.RunFor(ctx, Yesterday(j.now()))
}

// Yesterday is the calendar day before now, in now's location.
func Yesterday(now time.Time) time.Time {
	y, m, d := now.AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// DayFilter selects items whose query field starts with day (YYYY-MM-DD%).
func (j *Job) DayFilter(day time.Time) dspace.Filter {
	return dspace.Filter{
		Limit:      j.Config.PageSize,
		Offset:     0,
		QueryField: j.Config.QueryField,
		QueryOp:    j.Config.QueryOp,
		QueryVal:   day.Format("2006-01-02") + "%",
		Expand:     j.Config.Expand,
	}
}

// RunFor harvests one day. The summary is returned even when the run fails.
func (j *Job) RunFor(ctx context.Context, day time.Time) (*Summary, error) {
	if err := j.validate(); err != nil {
		return nil, err
	}
	sum := &Summary{
		RunID:     uuid.NewString(),
		Day:       day.Format("2006-01-02"),
		DryRun:    j.Config.DryRun,
		StartedAt: j.now(),
	}
	log := j.logger().With("run_id", sum.RunID, "day", sum.Day)

	if j.Locker != nil {
		key := "dspace-bridge:lock:" + sum.Day
		ok, err := j.Locker.Acquire(ctx, key, sum.RunID, j.Config.LockTTL)
		if err != nil {
			return j.finish(ctx, log, sum, fmt.Errorf("acquire run lock: %w", err))
		}
		if !ok {
			return j.finish(ctx, log, sum, ErrRunInProgress)
		}
		defer func() {
			if err := j.Locker.Release(context.WithoutCancel(ctx), key, sum.RunID); err != nil {
				log.Warn("release run lock", "error", err)
			}
		}()
	}

	runID := ""
	if j.Ledger != nil {
		if err := j.Ledger.BeginRun(ctx, sum.RunID, day, sum.DryRun); err != nil {
			log.Warn("run ledger unavailable, continuing without snapshots", "error", err)
		} else {
			runID = sum.RunID
		}
	}

	st, err := j.Source.Login(ctx)
	if err != nil {
		return j.finishLedger(ctx, log, sum, runID, err)
	}
	log.Info("authenticated", "user", st.FullName)
	defer func() {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := j.Source.Logout(lctx); err != nil {
			log.Warn("logout failed", "error", err)
		}
	}()

	err = j.harvest(ctx, log, sum, runID, j.DayFilter(day))
	return j.finishLedger(ctx, log, sum, runID, err)
}

func (j *Job) harvest(ctx context.Context, log *slog.Logger, sum *Summary, runID string, filter dspace.Filter) error {
	log.Info("applying item filter", "field", filter.QueryField, "op", filter.QueryOp, "value", filter.QueryVal, "limit", filter.Limit)
	for page := 1; ; page++ {
		if j.Config.MaxPages > 0 && page > j.Config.MaxPages {
			log.Warn("page cap reached, stopping early", "max_pages", j.Config.MaxPages)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := j.Source.FetchPage(ctx, filter)
		if err != nil {
			metrics.Item(metrics.StageFetch, metrics.OutcomeFailed)
			return fmt.Errorf("fetch page at offset %d: %w", filter.Offset, err)
		}
		filter.Offset += filter.Limit
		sum.Pages++
		sum.Fetched += len(items)
		metrics.Page()
		log.Info("page fetched", "offset", filter.Offset, "items", len(items))
		if len(items) == 0 {
			return nil
		}

		results := j.transformPage(ctx, items)
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, res := range results {
			item := items[i]
			metrics.Item(metrics.StageFetch, metrics.OutcomeOK)
			if res.err != nil {
				sum.TransformFailed++
				metrics.Item(metrics.StageTransform, metrics.OutcomeFailed)
				log.Warn("item skipped", "uuid", item.UUID, "error", res.err)
				j.Sink.Reject(ctx, runID, item, res.err)
				if j.Config.Strict {
					return res.err
				}
				continue
			}
			sum.Transformed++
			metrics.Item(metrics.StageTransform, metrics.OutcomeOK)
			if err := j.Sink.Write(ctx, runID, item, res.doc); err != nil {
				sum.UploadFailed++
				continue
			}
			if !j.Config.DryRun {
				sum.Uploaded++
			}
		}

		if j.Config.PagePause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(j.Config.PagePause):
			}
		}
	}
}

type result struct {
	doc *transform.Document
	err error
}

// transformPage flattens a page on up to Workers goroutines. Results keep the
// page order so uploads stay sequential and in source order.
func (j *Job) transformPage(ctx context.Context, items []dspace.Item) []result {
	out := make([]result, len(items))
	if j.Config.Workers <= 1 {
		for i, it := range items {
			doc, err := j.Transformer.Transform(ctx, it)
			out[i] = result{doc: doc, err: err}
		}
		return out
	}
	var g errgroup.Group
	g.SetLimit(j.Config.Workers)
	for i := range items {
		g.Go(func() error {
			doc, err := j.Transformer.Transform(ctx, items[i])
			out[i] = result{doc: doc, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (j *Job) finishLedger(ctx context.Context, log *slog.Logger, sum *Summary, runID string, runErr error) (*Summary, error) {
	if runID != "" {
		rec := store.RunRecord{
			ID:              runID,
			State:           store.RunStateSucceeded,
			Pages:           sum.Pages,
			Fetched:         sum.Fetched,
			Transformed:     sum.Transformed,
			TransformFailed: sum.TransformFailed,
			Uploaded:        sum.Uploaded,
			UploadFailed:    sum.UploadFailed,
		}
		if runErr != nil {
			rec.State = store.RunStateFailed
			rec.LastError.String, rec.LastError.Valid = runErr.Error(), true
		}
		if err := j.Ledger.FinishRun(context.WithoutCancel(ctx), rec); err != nil {
			log.Warn("run ledger update failed", "error", err)
		}
	}
	return j.finish(ctx, log, sum, runErr)
}

func (j *Job) finish(ctx context.Context, log *slog.Logger, sum *Summary, runErr error) (*Summary, error) {
	sum.FinishedAt = j.now()
	state := store.RunStateSucceeded
	if runErr != nil {
		state = store.RunStateFailed
		sum.Error = runErr.Error()
	}
	metrics.Run(state, sum.Duration())
	if runErr != nil {
		log.Error("run failed", "summary", sum, "error", runErr)
	} else {
		log.Info("run finished", "summary", sum)
	}
	if j.Pub != nil {
		j.Pub.PublishRunCompleted(ctx, events.RunCompleted{
			RunID:      sum.RunID,
			Day:        sum.Day,
			Err:        sum.Error,
			Summary:    sum.JSON(),
			FinishedAt: sum.FinishedAt,
		})
	}
	return sum, runErr
}

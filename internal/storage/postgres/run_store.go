package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/policy-crawler/internal/progress"
)

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunStopped = "stopped"
)

// RunStore is a progress sink that records run and per-source outcomes in
// the crawl_runs and source_runs tables. Other stages are ignored.
type RunStore struct {
	pool Execer
}

var _ progress.Sink = (*RunStore)(nil)

// NewRunStore builds a RunStore. The pool is owned by the caller.
func NewRunStore(pool Execer) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Consume writes the run-level events of batch in order.
func (s *RunStore) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		var err error
		switch evt.Stage {
		case progress.StageRunStart:
			err = s.startRun(ctx, evt)
		case progress.StageSourceDone:
			err = s.finishSource(ctx, evt)
		case progress.StageRunDone:
			err = s.finishRun(ctx, evt)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink.
func (s *RunStore) Close(context.Context) error {
	return nil
}

func (s *RunStore) startRun(ctx context.Context, evt progress.Event) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, uuid.UUID(evt.RunID), evt.TS, RunRunning); err != nil {
		return fmt.Errorf("failed to insert run start: %w", err)
	}
	return nil
}

func (s *RunStore) finishSource(ctx context.Context, evt progress.Event) error {
	query := `
		INSERT INTO source_runs (run_id, source, pages, records, new_records, reason, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, source) DO UPDATE
		SET pages = EXCLUDED.pages,
			records = EXCLUDED.records,
			new_records = EXCLUDED.new_records,
			reason = EXCLUDED.reason,
			finished_at = EXCLUDED.finished_at;
	`
	_, err := s.pool.Exec(ctx, query,
		uuid.UUID(evt.RunID), evt.Source, evt.Page, evt.Records, evt.NewRecords, evt.Reason, evt.TS)
	if err != nil {
		return fmt.Errorf("failed to upsert source run: %w", err)
	}
	return nil
}

func (s *RunStore) finishRun(ctx context.Context, evt progress.Event) error {
	status := RunSuccess
	if evt.Reason != "" {
		status = RunStopped
	}
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, records = $3, completed = $4, failed = $5
		WHERE id = $6;
	`
	_, err := s.pool.Exec(ctx, query, evt.TS, status, evt.Records, evt.Completed, evt.Failed, uuid.UUID(evt.RunID))
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

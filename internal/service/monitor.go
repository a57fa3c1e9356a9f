package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"example/dw-batch/internal/openai"
)

var ErrInvalidInterval = errors.New("poll interval must be positive")

type BatchTracker interface {
	RetrieveBatch(ctx context.Context, batchID string) (*openai.Batch, error)
	CancelBatch(ctx context.Context, batchID string) (*openai.Batch, error)
	ListBatches(ctx context.Context, params *openai.ListBatchesParams) (*openai.ListBatchesResponse, error)
}

// Monitor reports on and controls batches that were already submitted.
type Monitor struct {
	api BatchTracker
	out io.Writer
}

func NewMonitor(api BatchTracker, out io.Writer) *Monitor {
	return &Monitor{api: api, out: out}
}

func (m *Monitor) Status(ctx context.Context, batchID string) (*openai.Batch, error) {
	batch, err := m.api.RetrieveBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("retrieve batch %s: %w", batchID, err)
	}
	m.printBatch(batch)
	return batch, nil
}

// Wait polls the batch every interval until it reaches a terminal status.
// Only a completed batch is a success; any other terminal status is returned
// as ErrBatchNotCompleted.
func (m *Monitor) Wait(ctx context.Context, batchID string, interval time.Duration) (*openai.Batch, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		batch, err := m.api.RetrieveBatch(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("retrieve batch %s: %w", batchID, err)
		}

		c := batch.RequestCounts
		fmt.Fprintf(m.out, "[%s] %s: %s (%d/%d completed, %d failed)\n",
			time.Since(start).Truncate(time.Second), batch.ID, batch.Status, c.Completed, c.Total, c.Failed)

		if openai.IsTerminal(batch.Status) {
			if batch.Status != openai.StatusCompleted {
				return batch, fmt.Errorf("%w. Status: %s", ErrBatchNotCompleted, batch.Status)
			}
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) Cancel(ctx context.Context, batchID string) (*openai.Batch, error) {
	batch, err := m.api.CancelBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("cancel batch %s: %w", batchID, err)
	}
	fmt.Fprintf(m.out, "✓ Cancellation requested for %s (status: %s)\n", batch.ID, batch.Status)
	return batch, nil
}

func (m *Monitor) List(ctx context.Context, limit int, after string) (*openai.ListBatchesResponse, error) {
	params := &openai.ListBatchesParams{}
	if limit > 0 {
		params.Limit = &limit
	}
	if after != "" {
		params.After = &after
	}

	resp, err := m.api.ListBatches(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	for _, b := range resp.Data {
		created := time.Unix(b.CreatedAt, 0).Format(time.DateTime)
		fmt.Fprintf(m.out, "%-40s %-12s %s  %d/%d\n", b.ID, b.Status, created, b.RequestCounts.Completed, b.RequestCounts.Total)
	}
	if resp.HasMore && resp.LastID != nil {
		fmt.Fprintf(m.out, "\nMore batches available: --after %s\n", *resp.LastID)
	}
	return resp, nil
}

func (m *Monitor) printBatch(b *openai.Batch) {
	fmt.Fprintf(m.out, "Batch:    %s\n", b.ID)
	fmt.Fprintf(m.out, "Status:   %s\n", b.Status)
	fmt.Fprintf(m.out, "Endpoint: %s\n", b.Endpoint)
	fmt.Fprintf(m.out, "Requests: %d total, %d completed, %d failed\n",
		b.RequestCounts.Total, b.RequestCounts.Completed, b.RequestCounts.Failed)
	if b.OutputFileID != nil {
		fmt.Fprintf(m.out, "Output:   %s\n", *b.OutputFileID)
	}
	if b.ErrorFileID != nil {
		fmt.Fprintf(m.out, "Errors:   %s\n", *b.ErrorFileID)
	}
	if b.Errors != nil {
		for _, e := range b.Errors.Data {
			if e.Line != nil {
				fmt.Fprintf(m.out, "  line %d: %s %s\n", *e.Line, e.Code, e.Message)
			} else {
				fmt.Fprintf(m.out, "  %s %s\n", e.Code, e.Message)
			}
		}
	}
}

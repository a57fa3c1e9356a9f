package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"example/dw-batch/internal/openai"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 15, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func strPtr(s string) *string { return &s }

// fakeAPI is an in-memory stand-in for the batch API.
type fakeAPI struct {
	mu sync.Mutex

	batches  map[string]*openai.Batch
	statuses []string // successive statuses returned by RetrieveBatch
	files    map[string][]byte

	retrieveCalls int
	uploaded      []string
	created       []openai.CreateBatchRequest
	cancelled     []string
	listParams    []*openai.ListBatchesParams
	listResponse  *openai.ListBatchesResponse
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		batches: map[string]*openai.Batch{},
		files:   map[string][]byte{},
	}
}

func (f *fakeAPI) RetrieveBatch(ctx context.Context, batchID string) (*openai.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.batches[batchID]
	if !ok {
		return nil, &openai.APIError{StatusCode: 404, Body: "no such batch"}
	}
	if len(f.statuses) > 0 {
		idx := f.retrieveCalls
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		b.Status = f.statuses[idx]
	}
	f.retrieveCalls++
	cp := *b
	return &cp, nil
}

func (f *fakeAPI) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return data, nil
}

func (f *fakeAPI) CreateFile(ctx context.Context, filePath string, purpose string) (*openai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploaded = append(f.uploaded, filePath)
	return &openai.File{ID: "file-in", Filename: filepath.Base(filePath), Purpose: purpose}, nil
}

func (f *fakeAPI) CreateBatch(ctx context.Context, req openai.CreateBatchRequest) (*openai.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, req)
	b := &openai.Batch{ID: "batch_new", Status: openai.StatusValidating, Endpoint: req.Endpoint, InputFileID: req.InputFileID}
	f.batches[b.ID] = b
	return b, nil
}

func (f *fakeAPI) CancelBatch(ctx context.Context, batchID string) (*openai.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled = append(f.cancelled, batchID)
	return &openai.Batch{ID: batchID, Status: openai.StatusCancelling}, nil
}

func (f *fakeAPI) ListBatches(ctx context.Context, params *openai.ListBatchesParams) (*openai.ListBatchesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listParams = append(f.listParams, params)
	return f.listResponse, nil
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

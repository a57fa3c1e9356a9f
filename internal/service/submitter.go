package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"example/dw-batch/internal/model"
	"example/dw-batch/internal/openai"

	"github.com/google/uuid"
)

var ErrEmptyRequestFile = errors.New("batch request file has no requests")

type BatchCreator interface {
	CreateFile(ctx context.Context, filePath string, purpose string) (*openai.File, error)
	CreateBatch(ctx context.Context, req openai.CreateBatchRequest) (*openai.Batch, error)
}

type SubmitOptions struct {
	RequestFile string
	LogsDir     string
}

type SubmitResult struct {
	Batch       *openai.Batch
	InputFile   *openai.File
	BatchIDFile string
	Requests    int
}

// Submitter uploads a batch request file, starts the batch and records its id
// as batch_id_<timestamp>.txt in the logs directory.
type Submitter struct {
	api              BatchCreator
	completionWindow string
	out              io.Writer
	now              func() time.Time
	newID            func() string
}

func NewSubmitter(api BatchCreator, completionWindow string, out io.Writer) *Submitter {
	if completionWindow == "" {
		completionWindow = openai.BatchCompletionWindow24h
	}
	return &Submitter{
		api:              api,
		completionWindow: completionWindow,
		out:              out,
		now:              time.Now,
		newID:            func() string { return uuid.New().String() },
	}
}

func (s *Submitter) Submit(ctx context.Context, opts SubmitOptions) (*SubmitResult, error) {
	requestFile := opts.RequestFile
	if requestFile == "" {
		latest, err := LatestRequestFile(opts.LogsDir)
		if err != nil {
			return nil, err
		}
		requestFile = latest
	}

	endpoint, count, err := inspectRequestFile(requestFile)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(s.out, "Submitting %s (%d requests to %s)\n", requestFile, count, endpoint)

	file, err := s.api.CreateFile(ctx, requestFile, openai.FilePurposeBatch)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", requestFile, err)
	}
	fmt.Fprintf(s.out, "✓ Uploaded file: %s\n", file.ID)

	batch, err := s.api.CreateBatch(ctx, openai.CreateBatchRequest{
		InputFileID:      file.ID,
		Endpoint:         endpoint,
		CompletionWindow: s.completionWindow,
		Metadata: map[string]string{
			"source_file":   filepath.Base(requestFile),
			"submission_id": s.newID(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	fmt.Fprintf(s.out, "✓ Created batch: %s (status: %s)\n", batch.ID, batch.Status)

	if err := os.MkdirAll(opts.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	idFile := filepath.Join(opts.LogsDir, fmt.Sprintf("batch_id_%s.txt", s.now().Format(TimestampLayout)))
	if err := writeFileAtomic(idFile, []byte(batch.ID+"\n")); err != nil {
		return nil, fmt.Errorf("recording batch id: %w", err)
	}
	fmt.Fprintf(s.out, "✓ Batch ID saved to %s\n", idFile)

	return &SubmitResult{
		Batch:       batch,
		InputFile:   file,
		BatchIDFile: idFile,
		Requests:    count,
	}, nil
}

// inspectRequestFile returns the endpoint of the first request and the number
// of requests in the file.
func inspectRequestFile(path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", path, err)
	}

	lines := nonBlankLines(data)
	if len(lines) == 0 {
		return "", 0, fmt.Errorf("%w: %s", ErrEmptyRequestFile, path)
	}

	var first model.RequestLine
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		return "", 0, fmt.Errorf("parse first request in %s: %w", path, err)
	}
	if first.URL == "" {
		return "", 0, fmt.Errorf("first request in %s has no url", path)
	}
	return first.URL, len(lines), nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example/dw-batch/internal/model"
	"example/dw-batch/internal/openai"
)

var (
	ErrBatchNotCompleted = errors.New("batch not completed yet")
	ErrNoOutputFile      = errors.New("batch has no output file")
)

// summaryPrefix is stripped from custom ids to name summary files.
const summaryPrefix = "summary-"

type ResultKind string

const (
	KindEmbeddings ResultKind = "embeddings"
	KindSummaries  ResultKind = "summaries"
)

// BatchReader is the part of the API the result processor needs.
type BatchReader interface {
	RetrieveBatch(ctx context.Context, batchID string) (*openai.Batch, error)
	FileContent(ctx context.Context, fileID string) ([]byte, error)
}

type ProcessOptions struct {
	BatchID   string
	OutputDir string
	LogsDir   string
}

type LineFailure struct {
	Line     int
	CustomID string
	Reason   string
}

type ProcessResult struct {
	BatchID    string
	Kind       ResultKind
	Dir        string
	Written    int
	Quality    *QualityReport
	Failures   []LineFailure
	ErrorsFile string
}

// ResultProcessor downloads the output of a completed batch and writes one
// artifact per result line.
type ResultProcessor struct {
	api    BatchReader
	prompt string
	out    io.Writer
	now    func() time.Time
}

// NewResultProcessor takes the prompt text the batch was built with; an empty
// prompt disables JSON validation.
func NewResultProcessor(api BatchReader, prompt string, out io.Writer) *ResultProcessor {
	return &ResultProcessor{
		api:    api,
		prompt: prompt,
		out:    out,
		now:    time.Now,
	}
}

func (p *ResultProcessor) Process(ctx context.Context, opts ProcessOptions) (*ProcessResult, error) {
	fmt.Fprintf(p.out, "Retrieving batch results: %s\n\n", opts.BatchID)

	batch, err := p.api.RetrieveBatch(ctx, opts.BatchID)
	if err != nil {
		return nil, fmt.Errorf("retrieve batch %s: %w", opts.BatchID, err)
	}
	if batch.Status != openai.StatusCompleted {
		return nil, fmt.Errorf("%w. Status: %s", ErrBatchNotCompleted, batch.Status)
	}

	// A batch where every request failed has an error file and no output.
	result := &ProcessResult{BatchID: opts.BatchID}
	if batch.ErrorFileID != nil && *batch.ErrorFileID != "" {
		result.ErrorsFile = p.saveErrorFile(ctx, *batch.ErrorFileID, opts)
	}
	if batch.OutputFileID == nil || *batch.OutputFileID == "" {
		return result, fmt.Errorf("%w: %s", ErrNoOutputFile, opts.BatchID)
	}

	fmt.Fprintf(p.out, "✓ Batch completed successfully\n")
	fmt.Fprintf(p.out, "Output file ID: %s\n\n", *batch.OutputFileID)

	fmt.Fprintf(p.out, "Downloading results...\n")
	content, err := p.api.FileContent(ctx, *batch.OutputFileID)
	if err != nil {
		return nil, fmt.Errorf("download results: %w", err)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	if abs, err := filepath.Abs(opts.OutputDir); err == nil {
		fmt.Fprintf(p.out, "Output directory: %s\n\n", abs)
	}

	lines := nonBlankLines(content)
	embeddings := isEmbeddingsBatch(lines)

	timestamp := p.now().Format(TimestampLayout)
	if embeddings {
		result.Kind = KindEmbeddings
		result.Dir = filepath.Join(opts.OutputDir, "embeddings", "batch_"+timestamp)
		err = p.writeEmbeddings(lines, result)
	} else {
		result.Kind = KindSummaries
		result.Dir = filepath.Join(opts.OutputDir, "summaries", "batch_"+timestamp)
		err = p.writeSummaries(lines, result)
	}
	if err != nil {
		return nil, err
	}

	p.reportFailures(result)
	return result, nil
}

// isEmbeddingsBatch decides the kind of the whole batch from the first line
// that decodes: a response body with a "data" key means embeddings. Lines that
// do not decode are left for the writers to report.
func isEmbeddingsBatch(lines []string) bool {
	for _, line := range lines {
		var r struct {
			Response *struct {
				Body map[string]json.RawMessage `json:"body"`
			} `json:"response"`
		}
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		if r.Response == nil {
			return false
		}
		_, ok := r.Response.Body["data"]
		return ok
	}
	return false
}

func decodeResultLine(line string) (model.ResultLine, error) {
	var r model.ResultLine
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return r, fmt.Errorf("invalid JSON: %w", err)
	}
	if r.CustomID == "" {
		return r, errors.New("missing custom_id")
	}
	if r.CustomID != filepath.Base(r.CustomID) || r.CustomID == "." || r.CustomID == ".." {
		return r, fmt.Errorf("custom_id %q is not a safe filename", r.CustomID)
	}
	if r.Response == nil || len(r.Response.Body) == 0 {
		return r, errors.New("missing response body")
	}
	return r, nil
}

func (p *ResultProcessor) writeEmbeddings(lines []string, result *ProcessResult) error {
	if err := os.MkdirAll(result.Dir, 0o755); err != nil {
		return fmt.Errorf("creating embeddings dir: %w", err)
	}
	fmt.Fprintf(p.out, "Embeddings batch detected - saving to: %s/\n\n", result.Dir)

	for i, line := range lines {
		r, err := decodeResultLine(line)
		if err != nil {
			result.Failures = append(result.Failures, LineFailure{Line: i + 1, CustomID: r.CustomID, Reason: err.Error()})
			continue
		}

		var body model.EmbeddingList
		if err := json.Unmarshal(r.Response.Body, &body); err != nil || len(body.Data) == 0 {
			result.Failures = append(result.Failures, LineFailure{Line: i + 1, CustomID: r.CustomID, Reason: "response body has no embedding data"})
			continue
		}

		record := model.EmbeddingRecord{
			CustomID:   r.CustomID,
			Model:      "unknown",
			Dimensions: len(body.Data[0].Embedding),
			Embedding:  body.Data[0].Embedding,
		}
		if body.Model != nil {
			record.Model = *body.Model
		}
		if record.Embedding == nil {
			record.Embedding = []float64{}
		}

		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding embedding %s: %w", r.CustomID, err)
		}
		outputFile := filepath.Join(result.Dir, r.CustomID+".json")
		if err := writeFileAtomic(outputFile, data); err != nil {
			return fmt.Errorf("writing %s: %w", outputFile, err)
		}

		fmt.Fprintf(p.out, "✓ Saved: %s (%d dimensions)\n", filepath.Base(outputFile), record.Dimensions)
		result.Written++
	}

	bar := strings.Repeat("=", 60)
	fmt.Fprintf(p.out, "\n%s\nEMBEDDINGS SUMMARY\n%s\n", bar, bar)
	fmt.Fprintf(p.out, "Total embeddings saved: %d\n", result.Written)
	fmt.Fprintf(p.out, "Output folder: %s\n%s\n", result.Dir, bar)
	return nil
}

func (p *ResultProcessor) writeSummaries(lines []string, result *ProcessResult) error {
	if err := os.MkdirAll(result.Dir, 0o755); err != nil {
		return fmt.Errorf("creating summaries dir: %w", err)
	}
	fmt.Fprintf(p.out, "Summaries batch - saving to: %s/\n\n", result.Dir)

	expectJSON := PromptExpectsJSON(p.prompt)
	if expectJSON {
		fmt.Fprintf(p.out, "JSON output detected in prompt - will validate JSON structure\n\n")
	}
	quality := NewQualityReport(expectJSON)
	result.Quality = quality

	for i, line := range lines {
		r, err := decodeResultLine(line)
		if err != nil {
			result.Failures = append(result.Failures, LineFailure{Line: i + 1, CustomID: r.CustomID, Reason: err.Error()})
			continue
		}

		var body model.ChatCompletion
		if err := json.Unmarshal(r.Response.Body, &body); err != nil || len(body.Choices) == 0 {
			result.Failures = append(result.Failures, LineFailure{Line: i + 1, CustomID: r.CustomID, Reason: "response body has no choices"})
			continue
		}
		summary := body.Choices[0].Message.Content
		name := strings.ReplaceAll(r.CustomID, summaryPrefix, "")
		if name == "" {
			result.Failures = append(result.Failures, LineFailure{Line: i + 1, CustomID: r.CustomID, Reason: "custom_id has no name after prefix"})
			continue
		}

		a := quality.Check(name, summary)
		switch {
		case a.Empty:
			fmt.Fprintf(p.out, "⚠️  %s: Empty or very short output (%d chars)\n", name, a.Length)
		case a.Short:
			fmt.Fprintf(p.out, "⚠️  %s: Suspiciously short output (%d chars)\n", name, a.Length)
		}
		if a.JSONChecked && !a.JSONValid {
			fmt.Fprintf(p.out, "⚠️  %s: Invalid JSON - %s\n", name, a.JSONError)
		}

		outputPath := filepath.Join(result.Dir, name+"_summary.md")
		if err := writeFileAtomic(outputPath, []byte(summary)); err != nil {
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}
		result.Written++

		if a.OK() {
			fmt.Fprintf(p.out, "✓ Saved: %s (%s)\n", outputPath, a.Status())
		} else {
			fmt.Fprintf(p.out, "✗ Saved (with issues): %s (%s)\n", outputPath, a.Status())
		}
	}

	quality.Render(p.out)
	bar := strings.Repeat("=", 60)
	fmt.Fprintf(p.out, "\nOutput folder: %s\n%s\n", result.Dir, bar)
	return nil
}

func (p *ResultProcessor) saveErrorFile(ctx context.Context, fileID string, opts ProcessOptions) string {
	data, err := p.api.FileContent(ctx, fileID)
	if err != nil {
		fmt.Fprintf(p.out, "⚠ Could not download error file %s: %v\n", fileID, err)
		return ""
	}
	if err := os.MkdirAll(opts.LogsDir, 0o755); err != nil {
		fmt.Fprintf(p.out, "⚠ Could not create %s: %v\n", opts.LogsDir, err)
		return ""
	}

	path := filepath.Join(opts.LogsDir, "batch_errors_"+SanitizeStem(filepath.Base(opts.BatchID))+".jsonl")
	if err := writeFileAtomic(path, data); err != nil {
		fmt.Fprintf(p.out, "⚠ Could not save error file: %v\n", err)
		return ""
	}
	fmt.Fprintf(p.out, "⚠ Batch reported failed requests (%d lines) - saved to %s\n", len(nonBlankLines(data)), path)
	return path
}

func (p *ResultProcessor) reportFailures(result *ProcessResult) {
	if len(result.Failures) == 0 {
		return
	}
	fmt.Fprintf(p.out, "\n⚠ Skipped %d malformed result lines:\n", len(result.Failures))
	for _, f := range result.Failures {
		id := f.CustomID
		if id == "" {
			id = "?"
		}
		fmt.Fprintf(p.out, "  - line %d (%s): %s\n", f.Line, id, f.Reason)
	}
}

package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"example/dw-batch/internal/model"

	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	ModeImage     Mode = "image"
	ModeSummary   Mode = "summary"
	ModeEmbedding Mode = "embedding"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeImage, ModeSummary, ModeEmbedding:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want image, summary or embedding)", s)
}

func (m Mode) extensions() []string {
	if m == ModeImage {
		return []string{".jpg", ".jpeg", ".png"}
	}
	return []string{".txt", ".md"}
}

func (m Mode) idPrefix() string {
	switch m {
	case ModeSummary:
		return "summary-"
	case ModeEmbedding:
		return "embed-"
	}
	return "image-"
}

func (m Mode) noun() string {
	if m == ModeImage {
		return "image"
	}
	return "document"
}

var errEmptyDocument = errors.New("document is empty")

type BuilderConfig struct {
	Model              string
	EmbeddingModel     string
	MaxTokens          int
	ChatEndpoint       string
	EmbeddingsEndpoint string
	Prompt             string
	Concurrent         int
}

type BuildOptions struct {
	Mode     Mode
	Files    []string
	InputDir string
	LogsDir  string
}

type FailedFile struct {
	Path   string
	Reason string
}

type BuildResult struct {
	Found      int
	Requests   int
	OutputFile string
	Failed     []FailedFile
}

// BatchBuilder turns input files into a batch request file.
type BatchBuilder struct {
	cfg BuilderConfig
	out io.Writer
	now func() time.Time
	mu  sync.Mutex
}

func NewBatchBuilder(cfg BuilderConfig, out io.Writer) *BatchBuilder {
	if cfg.Concurrent <= 0 {
		cfg.Concurrent = 1
	}
	return &BatchBuilder{
		cfg: cfg,
		out: out,
		now: time.Now,
	}
}

type encoded struct {
	path   string
	baseID string
	body   any
	err    error
}

func (b *BatchBuilder) Build(opts BuildOptions) (*BuildResult, error) {
	if opts.Mode == "" {
		opts.Mode = ModeImage
	}

	inputs, err := b.CollectInputs(opts)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{Found: len(inputs)}
	if len(opts.Files) > 0 {
		fmt.Fprintf(b.out, "Processing %d specified %s(s)\n\n", len(inputs), opts.Mode.noun())
	} else {
		fmt.Fprintf(b.out, "Found %d %ss in %s\n\n", len(inputs), opts.Mode.noun(), opts.InputDir)
	}
	if len(inputs) == 0 {
		fmt.Fprintf(b.out, "No %s files found. Exiting.\n", opts.Mode.noun())
		return result, nil
	}

	entries := make([]encoded, len(inputs))
	total := len(inputs)

	g := new(errgroup.Group)
	g.SetLimit(b.cfg.Concurrent)

	for i, path := range inputs {
		i, path := i, path
		g.Go(func() error {
			b.printf("[%d/%d] Processing %s...\n", i+1, total, filepath.Base(path))
			entries[i] = b.encode(opts.Mode, path)
			if entries[i].err != nil {
				b.printFailure(path, entries[i].err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := idRegistry{}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for _, e := range entries {
		if e.err != nil {
			result.Failed = append(result.Failed, FailedFile{Path: e.path, Reason: e.err.Error()})
			continue
		}
		line := model.RequestLine{
			CustomID: ids.claim(e.baseID),
			Method:   "POST",
			URL:      b.endpoint(opts.Mode),
			Body:     e.body,
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encoding request for %s: %w", e.path, err)
		}
		result.Requests++
	}

	if err := os.MkdirAll(opts.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	outputFile := filepath.Join(opts.LogsDir, fmt.Sprintf("batch_requests_%s.jsonl", b.now().Format(TimestampLayout)))
	if err := writeFileAtomic(outputFile, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("writing batch file: %w", err)
	}
	result.OutputFile = outputFile

	b.report(opts.Mode, result)
	return result, nil
}

// CollectInputs returns the explicit file list resolved to absolute paths,
// or the sorted, non-recursive scan of the input directory.
func (b *BatchBuilder) CollectInputs(opts BuildOptions) ([]string, error) {
	if len(opts.Files) > 0 {
		files := make([]string, 0, len(opts.Files))
		for _, f := range opts.Files {
			abs, err := filepath.Abs(f)
			if err != nil {
				return nil, fmt.Errorf("resolving %s: %w", f, err)
			}
			files = append(files, abs)
		}
		return files, nil
	}

	seen := map[string]bool{}
	var files []string
	for _, ext := range opts.Mode.extensions() {
		for _, pattern := range []string{"*" + ext, "*" + strings.ToUpper(ext)} {
			matches, err := filepath.Glob(filepath.Join(opts.InputDir, pattern))
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				if !seen[m] {
					seen[m] = true
					files = append(files, m)
				}
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func (b *BatchBuilder) endpoint(mode Mode) string {
	if mode == ModeEmbedding {
		return b.cfg.EmbeddingsEndpoint
	}
	return b.cfg.ChatEndpoint
}

func (b *BatchBuilder) encode(mode Mode, path string) encoded {
	e := encoded{path: path, baseID: mode.idPrefix() + SanitizeStem(fileStem(path))}

	data, err := os.ReadFile(path)
	if err != nil {
		e.err = err
		return e
	}

	switch mode {
	case ModeImage:
		mimeType := imageMIMEType(path)
		payload := base64.StdEncoding.EncodeToString(data)
		e.body = model.ChatRequest{
			Model: b.cfg.Model,
			Messages: []model.Message{{
				Role: "user",
				Content: []model.ContentPart{
					{Type: "text", Text: b.cfg.Prompt},
					{Type: "image_url", ImageURL: &model.ImageURL{URL: "data:" + mimeType + ";base64," + payload}},
				},
			}},
			MaxTokens: b.cfg.MaxTokens,
		}
		b.printf("  ✓ Encoded %d bytes [%s]\n", len(payload), mimeType)
	case ModeSummary:
		if strings.TrimSpace(string(data)) == "" {
			e.err = errEmptyDocument
			return e
		}
		e.body = model.ChatRequest{
			Model: b.cfg.Model,
			Messages: []model.Message{{
				Role:    "user",
				Content: b.cfg.Prompt + "\n\n" + string(data),
			}},
			MaxTokens: b.cfg.MaxTokens,
		}
		b.printf("  ✓ Read %d characters\n", len([]rune(string(data))))
	case ModeEmbedding:
		if strings.TrimSpace(string(data)) == "" {
			e.err = errEmptyDocument
			return e
		}
		e.body = model.EmbeddingRequest{Model: b.cfg.EmbeddingModel, Input: string(data)}
		b.printf("  ✓ Read %d characters\n", len([]rune(string(data))))
	}
	return e
}

func imageMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "image/png"
}

func (b *BatchBuilder) printf(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(b.out, format, args...)
}

func (b *BatchBuilder) printFailure(path string, err error) {
	bar := strings.Repeat("!", 60)
	b.printf("\n%s\nERROR DURING PROCESSING: %s\n%s\nFile: %s\nError: %v\n%s\n\n",
		bar, filepath.Base(path), bar, path, err, bar)
}

func (b *BatchBuilder) report(mode Mode, result *BuildResult) {
	bar := strings.Repeat("=", 60)
	fmt.Fprintf(b.out, "\n%s\n✓ Created %s with %d %s requests\n", bar, result.OutputFile, result.Requests, mode.noun())

	if len(result.Failed) > 0 {
		fmt.Fprintf(b.out, "\n⚠ Failed to process %d files:\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Fprintf(b.out, "  - %s: %s\n", filepath.Base(f.Path), f.Reason)
		}
	}
}

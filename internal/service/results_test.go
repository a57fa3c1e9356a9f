package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example/dw-batch/internal/model"
	"example/dw-batch/internal/openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatLine(t *testing.T, customID, content string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":    "chatcmpl-1",
		"model": "Qwen/Qwen3-VL",
		"choices": []any{map[string]any{
			"index":   0,
			"message": map[string]any{"role": "assistant", "content": content},
		}},
	})
	require.NoError(t, err)
	return fmt.Sprintf(`{"id":"req-1","custom_id":%q,"response":{"status_code":200,"body":%s},"error":null}`, customID, body)
}

func embeddingLine(customID string, withModel bool, vec string) string {
	model := ""
	if withModel {
		model = `"model":"Qwen/Qwen3-Embedding",`
	}
	return fmt.Sprintf(`{"custom_id":%q,"response":{"status_code":200,"body":{"object":"list",%s"data":[{"object":"embedding","index":0,"embedding":%s}]}}}`, customID, model, vec)
}

func completedAPI(content string) *fakeAPI {
	api := newFakeAPI()
	api.batches["batch_1"] = &openai.Batch{ID: "batch_1", Status: openai.StatusCompleted, OutputFileID: strPtr("file-out")}
	api.files["file-out"] = []byte(content)
	return api
}

func testProcessor(api BatchReader, prompt string) (*ResultProcessor, *bytes.Buffer) {
	var out bytes.Buffer
	p := NewResultProcessor(api, prompt, &out)
	p.now = fixedClock
	return p, &out
}

func TestProcessEmbeddings(t *testing.T) {
	content := strings.Join([]string{
		embeddingLine("embed-a", true, "[0.1,0.2,0.3]"),
		"",
		embeddingLine("embed-b", false, "[1,2]"),
		"   ",
		embeddingLine("embed-c", true, "[0.5]"),
		"",
	}, "\n")

	out := t.TempDir()
	p, console := testProcessor(completedAPI(content), "return as json")
	result, err := p.Process(context.Background(), ProcessOptions{BatchID: "batch_1", OutputDir: out, LogsDir: filepath.Join(out, "logs")})
	require.NoError(t, err)

	assert.Equal(t, KindEmbeddings, result.Kind)
	assert.Equal(t, 3, result.Written)
	assert.Nil(t, result.Quality)

	dir := filepath.Join(out, "embeddings", "batch_20250314_093015")
	assert.Equal(t, dir, result.Dir)
	assert.ElementsMatch(t, []string{"embed-a.json", "embed-b.json", "embed-c.json"}, listDir(t, dir))
	assert.NoDirExists(t, filepath.Join(out, "summaries"))

	data, err := os.ReadFile(filepath.Join(dir, "embed-b.json"))
	require.NoError(t, err)
	var rec model.EmbeddingRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "embed-b", rec.CustomID)
	assert.Equal(t, "unknown", rec.Model)
	assert.Equal(t, 2, rec.Dimensions)
	assert.Equal(t, []float64{1, 2}, rec.Embedding)

	data, err = os.ReadFile(filepath.Join(dir, "embed-a.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "Qwen/Qwen3-Embedding", rec.Model)
	assert.Equal(t, 3, rec.Dimensions)

	assert.Contains(t, console.String(), "Total embeddings saved: 3")
}

func TestProcessSummariesQuality(t *testing.T) {
	content := strings.Join([]string{
		chatLine(t, "summary-tiny", strings.Repeat("x", 49)),
		chatLine(t, "summary-edge", strings.Repeat("x", 50)),
		chatLine(t, "summary-DGM", strings.Repeat("y", 250)),
		chatLine(t, "image-cat", strings.Repeat("z", 199)),
	}, "\n")

	out := t.TempDir()
	p, console := testProcessor(completedAPI(content), "Summarize the document.")
	result, err := p.Process(context.Background(), ProcessOptions{BatchID: "batch_1", OutputDir: out, LogsDir: filepath.Join(out, "logs")})
	require.NoError(t, err)

	assert.Equal(t, KindSummaries, result.Kind)
	assert.Equal(t, 4, result.Written)
	dir := filepath.Join(out, "summaries", "batch_20250314_093015")
	assert.ElementsMatch(t,
		[]string{"tiny_summary.md", "edge_summary.md", "DGM_summary.md", "image-cat_summary.md"},
		listDir(t, dir))
	assert.NoDirExists(t, filepath.Join(out, "embeddings"))

	// quality flags never block the write
	data, err := os.ReadFile(filepath.Join(dir, "tiny_summary.md"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 49), string(data))

	q := result.Quality
	require.NotNil(t, q)
	assert.False(t, q.ExpectJSON)
	assert.Equal(t, 4, q.Total)
	assert.Equal(t, []LengthIssue{{Name: "tiny", Length: 49}}, q.Empty)
	assert.Equal(t, []LengthIssue{{Name: "edge", Length: 50}, {Name: "image-cat", Length: 199}}, q.Short)
	assert.Empty(t, q.InvalidJSON)
	assert.Equal(t, 3, q.SuccessCount())

	assert.Contains(t, console.String(), "Successfully processed: 3")
	assert.NotContains(t, console.String(), "JSON Validation")
}

func TestProcessSummariesJSONValidation(t *testing.T) {
	valid := `{"title":"A cat","summary":"A cat sits on a mat in the afternoon sun, looking content."}`
	content := strings.Join([]string{
		chatLine(t, "summary-good", valid),
		chatLine(t, "summary-bad", "Here is the answer: "+strings.Repeat("words ", 40)),
		chatLine(t, "summary-empty", ""),
	}, "\n")

	out := t.TempDir()
	p, console := testProcessor(completedAPI(content), "Describe the image. Respond in JSON.")
	result, err := p.Process(context.Background(), ProcessOptions{BatchID: "batch_1", OutputDir: out, LogsDir: filepath.Join(out, "logs")})
	require.NoError(t, err)

	q := result.Quality
	require.NotNil(t, q)
	assert.True(t, q.ExpectJSON)
	require.Len(t, q.InvalidJSON, 2)
	assert.Equal(t, "bad", q.InvalidJSON[0].Name)
	assert.NotEmpty(t, q.InvalidJSON[0].Error)
	assert.Equal(t, "empty", q.InvalidJSON[1].Name)
	assert.Len(t, q.Empty, 1)

	// empty and invalid are both subtracted for the same output
	assert.Equal(t, 3-1-2, q.SuccessCount())
	assert.Equal(t, 3-2-1, q.ValidJSONCount())

	assert.Contains(t, console.String(), "JSON output detected in prompt")
	assert.Contains(t, console.String(), "✗ Invalid JSON: 2")
	assert.Contains(t, console.String(), "good_summary.md (88 chars, valid JSON)")
}

func TestProcessNotCompleted(t *testing.T) {
	api := newFakeAPI()
	api.batches["batch_1"] = &openai.Batch{ID: "batch_1", Status: openai.StatusInProgress}

	out := t.TempDir()
	p, _ := testProcessor(api, "")
	_, err := p.Process(context.Background(), ProcessOptions{BatchID: "batch_1", OutputDir: out})

	require.ErrorIs(t, err, ErrBatchNotCompleted)
	assert.Contains(t, err.Error(), "in_progress")
	assert.Empty(t, listDir(t, out))
}

func TestProcessMalformedLines(t *testing.T) {
	content := strings.Join([]string{
		chatLine(t, "summary-ok", strings.Repeat("a", 300)),
		`{"custom_id":"summary-broken"`,
		`{"custom_id":"summary-nochoices","response":{"status_code":500,"body":{"error":"boom"}}}`,
		`{"custom_id":"../escape","response":{"status_code":200,"body":{"choices":[{"message":{"content":"x"}}]}}}`,
	}, "\n")

	out := t.TempDir()
	p, console := testProcessor(completedAPI(content), "")
	result, err := p.Process(context.Background(), ProcessOptions{BatchID: "batch_1", OutputDir: out, LogsDir: filepath.Join(out, "logs")})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 1, result.Quality.Total)
	require.Len(t, result.Failures, 3)
	assert.Equal(t, 2, result.Failures[0].Line)
	assert.Equal(t, "summary-nochoices", result.Failures[1].CustomID)
	assert.Contains(t, result.Failures[2].Reason, "not a safe filename")
	assert.Contains(t, console.String(), "Skipped 3 malformed result lines")
}

func TestProcessSavesErrorFile(t *testing.T) {
	api := completedAPI(chatLine(t, "summary-ok", strings.Repeat("a", 300)))
	api.batches["batch_1"].ErrorFileID = strPtr("file-err")
	api.files["file-err"] = []byte(`{"custom_id":"summary-failed","error":{"code":"timeout"}}` + "\n")

	out := t.TempDir()
	logs := filepath.Join(out, "logs")
	p, _ := testProcessor(api, "")
	result, err := p.Process(context.Background(), ProcessOptions{BatchID: "batch_1", OutputDir: out, LogsDir: logs})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(logs, "batch_errors_batch_1.jsonl"), result.ErrorsFile)
	assert.FileExists(t, result.ErrorsFile)
}

func TestProcessEmptyOutput(t *testing.T) {
	out := t.TempDir()
	p, console := testProcessor(completedAPI("\n\n"), "")
	result, err := p.Process(context.Background(), ProcessOptions{BatchID: "batch_1", OutputDir: out})
	require.NoError(t, err)

	assert.Equal(t, KindSummaries, result.Kind)
	assert.Equal(t, 0, result.Written)
	assert.Contains(t, console.String(), "✓ All outputs look good!")
}

func TestProcessAllRequestsFailed(t *testing.T) {
	api := newFakeAPI()
	api.batches["batch_1"] = &openai.Batch{ID: "batch_1", Status: openai.StatusCompleted, ErrorFileID: strPtr("file-err")}
	api.files["file-err"] = []byte(`{"custom_id":"summary-a","error":{"code":"server_error"}}` + "\n")

	out := t.TempDir()
	logs := filepath.Join(out, "logs")
	p, _ := testProcessor(api, "")
	result, err := p.Process(context.Background(), ProcessOptions{BatchID: "batch_1", OutputDir: out, LogsDir: logs})

	require.ErrorIs(t, err, ErrNoOutputFile)
	require.NotNil(t, result)
	assert.Equal(t, filepath.Join(logs, "batch_errors_batch_1.jsonl"), result.ErrorsFile)
	data, err := os.ReadFile(result.ErrorsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server_error")
}

func TestProcessMalformedFirstLine(t *testing.T) {
	content := strings.Join([]string{
		`{not json`,
		embeddingLine("embed-a", true, "[0.1,0.2]"),
	}, "\n")

	out := t.TempDir()
	p, console := testProcessor(completedAPI(content), "")
	result, err := p.Process(context.Background(), ProcessOptions{BatchID: "batch_1", OutputDir: out, LogsDir: filepath.Join(out, "logs")})
	require.NoError(t, err)

	assert.Equal(t, KindEmbeddings, result.Kind)
	assert.Equal(t, 1, result.Written)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].Line)
	assert.Contains(t, result.Failures[0].Reason, "invalid JSON")
	assert.Contains(t, console.String(), "Skipped 1 malformed result lines")
}

func TestIsEmbeddingsBatch(t *testing.T) {
	assert.True(t, isEmbeddingsBatch([]string{`{"response":{"body":{"data":[]}}}`}))
	assert.False(t, isEmbeddingsBatch([]string{`{"response":{"body":{"choices":[]}}}`}))
	assert.False(t, isEmbeddingsBatch([]string{`{"custom_id":"x"}`}))
	assert.False(t, isEmbeddingsBatch([]string{`not json`}))
	assert.False(t, isEmbeddingsBatch(nil))

	// the first line that decodes decides
	assert.True(t, isEmbeddingsBatch([]string{`not json`, `{"response":{"body":{"data":[]}}}`}))
}

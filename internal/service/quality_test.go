package service

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssessLengthBoundaries(t *testing.T) {
	a := Assess(strings.Repeat("x", 49), false)
	assert.True(t, a.Empty)
	assert.False(t, a.Short)
	assert.False(t, a.OK())

	a = Assess(strings.Repeat("x", 50), false)
	assert.False(t, a.Empty)
	assert.True(t, a.Short)
	assert.True(t, a.OK())

	a = Assess(strings.Repeat("x", 199), false)
	assert.True(t, a.Short)

	a = Assess(strings.Repeat("x", 200), false)
	assert.False(t, a.Empty)
	assert.False(t, a.Short)
	assert.Equal(t, "200 chars", a.Status())

	// length counts characters, not bytes
	a = Assess(strings.Repeat("ü", 50), false)
	assert.Equal(t, 50, a.Length)
	assert.False(t, a.Empty)
}

func TestAssessJSON(t *testing.T) {
	a := Assess(`{"ok": true}`, true)
	assert.True(t, a.JSONChecked)
	assert.True(t, a.JSONValid)
	assert.Equal(t, "12 chars, valid JSON", a.Status())

	a = Assess("```json\n{}\n```", true)
	assert.False(t, a.JSONValid)
	assert.NotEmpty(t, a.JSONError)
	assert.Contains(t, a.Status(), "INVALID JSON")

	a = Assess("not json", false)
	assert.False(t, a.JSONChecked)
}

func TestPromptExpectsJSON(t *testing.T) {
	for _, p := range []string{
		"Respond in JSON",
		"give me STRUCTURED data",
		"we will Parse this",
		"Return as a list",
		"Output Format: markdown",
	} {
		assert.True(t, PromptExpectsJSON(p), p)
	}
	assert.False(t, PromptExpectsJSON("Summarize the document."))
	assert.False(t, PromptExpectsJSON(""))
}

func TestQualityReportCounts(t *testing.T) {
	r := NewQualityReport(true)
	r.Check("good", `{"summary": "`+strings.Repeat("a", 250)+`"}`)
	r.Check("prose", strings.Repeat("b", 300))
	r.Check("blank", "")

	assert.Equal(t, 3, r.Total)
	assert.Len(t, r.Empty, 1)
	assert.Len(t, r.InvalidJSON, 2)
	assert.Equal(t, 0, r.SuccessCount())
	assert.Equal(t, 0, r.ValidJSONCount())
	assert.False(t, r.AllGood())
}

func TestQualityReportRender(t *testing.T) {
	r := NewQualityReport(false)
	r.Check("short", strings.Repeat("s", 120))
	r.Check("fine", strings.Repeat("f", 400))

	var buf bytes.Buffer
	r.Render(&buf)
	out := buf.String()
	assert.Contains(t, out, "QUALITY SUMMARY")
	assert.Contains(t, out, "Total outputs processed: 2")
	assert.Contains(t, out, "Successfully processed: 2")
	assert.Contains(t, out, "Suspiciously short outputs (1):")
	assert.Contains(t, out, "  - short (120 chars)")
	assert.NotContains(t, out, "JSON Validation")
	assert.NotContains(t, out, "All outputs look good")

	clean := NewQualityReport(false)
	clean.Check("fine", strings.Repeat("f", 400))
	buf.Reset()
	clean.Render(&buf)
	assert.Contains(t, buf.String(), "✓ All outputs look good!")
}

package service

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	// MinLengthThreshold marks a summary as empty or very short.
	MinLengthThreshold = 50
	// ShortLengthThreshold marks a summary as suspiciously short. Advisory only.
	ShortLengthThreshold = 200
)

var jsonKeywords = []string{"json", "structured", "parse", "return as", "output format"}

// PromptExpectsJSON reports whether the prompt asks the model for JSON output.
func PromptExpectsJSON(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range jsonKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type LengthIssue struct {
	Name   string
	Length int
}

type JSONIssue struct {
	Name  string
	Error string
}

// Assessment is the quality verdict for a single output.
type Assessment struct {
	Length      int
	Empty       bool
	Short       bool
	JSONChecked bool
	JSONValid   bool
	JSONError   string
}

func (a Assessment) OK() bool {
	return !a.Empty && (!a.JSONChecked || a.JSONValid)
}

func (a Assessment) Status() string {
	parts := []string{fmt.Sprintf("%d chars", a.Length)}
	if a.JSONChecked {
		if a.JSONValid {
			parts = append(parts, "valid JSON")
		} else {
			parts = append(parts, "INVALID JSON")
		}
	}
	return strings.Join(parts, ", ")
}

func Assess(content string, expectJSON bool) Assessment {
	a := Assessment{Length: utf8.RuneCountInString(content)}
	switch {
	case a.Length < MinLengthThreshold:
		a.Empty = true
	case a.Length < ShortLengthThreshold:
		a.Short = true
	}

	if expectJSON {
		a.JSONChecked = true
		var v any
		if err := json.Unmarshal([]byte(content), &v); err != nil {
			a.JSONError = err.Error()
		} else {
			a.JSONValid = true
		}
	}
	return a
}

// QualityReport aggregates assessments for one chat-completions batch.
type QualityReport struct {
	ExpectJSON  bool
	Total       int
	Empty       []LengthIssue
	Short       []LengthIssue
	InvalidJSON []JSONIssue
}

func NewQualityReport(expectJSON bool) *QualityReport {
	return &QualityReport{ExpectJSON: expectJSON}
}

// Check assesses content and records any issue under name.
func (r *QualityReport) Check(name, content string) Assessment {
	a := Assess(content, r.ExpectJSON)
	r.Total++
	if a.Empty {
		r.Empty = append(r.Empty, LengthIssue{Name: name, Length: a.Length})
	}
	if a.Short {
		r.Short = append(r.Short, LengthIssue{Name: name, Length: a.Length})
	}
	if a.JSONChecked && !a.JSONValid {
		r.InvalidJSON = append(r.InvalidJSON, JSONIssue{Name: name, Error: a.JSONError})
	}
	return a
}

// SuccessCount subtracts empty and invalid-JSON outputs only; suspiciously
// short outputs are warnings and still count as successes. An output that is
// both empty and invalid JSON is subtracted twice.
func (r *QualityReport) SuccessCount() int {
	return r.Total - len(r.Empty) - len(r.InvalidJSON)
}

func (r *QualityReport) ValidJSONCount() int {
	return r.Total - len(r.InvalidJSON) - len(r.Empty)
}

func (r *QualityReport) AllGood() bool {
	return len(r.Empty) == 0 && len(r.Short) == 0 && len(r.InvalidJSON) == 0
}

func (r *QualityReport) Render(w io.Writer) {
	bar := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\nQUALITY SUMMARY\n%s\n", bar, bar)
	fmt.Fprintf(w, "Total outputs processed: %d\n", r.Total)
	fmt.Fprintf(w, "Successfully processed: %d\n", r.SuccessCount())

	if len(r.Empty) > 0 {
		fmt.Fprintf(w, "\n⚠️  Empty outputs (%d):\n", len(r.Empty))
		for _, e := range r.Empty {
			fmt.Fprintf(w, "  - %s (%d chars)\n", e.Name, e.Length)
		}
	}

	if len(r.Short) > 0 {
		fmt.Fprintf(w, "\n⚠️  Suspiciously short outputs (%d):\n", len(r.Short))
		for _, s := range r.Short {
			fmt.Fprintf(w, "  - %s (%d chars)\n", s.Name, s.Length)
		}
	}

	if r.ExpectJSON {
		fmt.Fprintf(w, "\nJSON Validation (prompt expects JSON):\n")
		fmt.Fprintf(w, "  ✓ Valid JSON: %d\n", r.ValidJSONCount())
		if len(r.InvalidJSON) > 0 {
			fmt.Fprintf(w, "  ✗ Invalid JSON: %d\n", len(r.InvalidJSON))
			for _, j := range r.InvalidJSON {
				fmt.Fprintf(w, "    - %s: %s\n", j.Name, j.Error)
			}
		}
	}

	if r.AllGood() {
		fmt.Fprintf(w, "\n✓ All outputs look good!\n")
	}
}

package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ContentGenerator answers a prompt about one image synchronously.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string, image []byte, mimeType string, expectJSON bool) (string, error)
}

// ImagePreviewer tries the batch prompt on a single image before a whole
// batch is paid for.
type ImagePreviewer struct {
	gen    ContentGenerator
	prompt string
	out    io.Writer
}

func NewImagePreviewer(gen ContentGenerator, prompt string, out io.Writer) *ImagePreviewer {
	return &ImagePreviewer{
		gen:    gen,
		prompt: prompt,
		out:    out,
	}
}

func (p *ImagePreviewer) Preview(ctx context.Context, imagePath string) (string, Assessment, error) {
	imageBytes, err := os.ReadFile(imagePath)
	if err != nil {
		return "", Assessment{}, err
	}

	expectJSON := PromptExpectsJSON(p.prompt)
	mimeType := imageMIMEType(imagePath)
	fmt.Fprintf(p.out, "Previewing %s [%s]...\n\n", filepath.Base(imagePath), mimeType)

	text, err := p.gen.Generate(ctx, p.prompt, imageBytes, mimeType, expectJSON)
	if err != nil {
		return "", Assessment{}, fmt.Errorf("generate content for %s: %w", imagePath, err)
	}

	a := Assess(text, expectJSON)
	bar := strings.Repeat("=", 60)
	fmt.Fprintf(p.out, "%s\n%s\n%s\n", bar, text, bar)
	switch {
	case a.Empty:
		fmt.Fprintf(p.out, "⚠️  Empty or very short output (%d chars)\n", a.Length)
	case a.Short:
		fmt.Fprintf(p.out, "⚠️  Suspiciously short output (%d chars)\n", a.Length)
	}
	if a.JSONChecked && !a.JSONValid {
		fmt.Fprintf(p.out, "⚠️  Invalid JSON - %s\n", a.JSONError)
	}
	if a.OK() {
		fmt.Fprintf(p.out, "✓ Preview looks good (%s)\n", a.Status())
	} else {
		fmt.Fprintf(p.out, "✗ Preview has issues (%s)\n", a.Status())
	}
	return text, a, nil
}

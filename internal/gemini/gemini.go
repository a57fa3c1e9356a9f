package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Client runs a prompt against a single image synchronously on Vertex AI.
type Client struct {
	client *genai.Client
	model  string
}

func NewClient(ctx context.Context, project, location, model string) (*Client, error) {
	if project == "" {
		return nil, fmt.Errorf("gemini project is not configured (set [gemini] project in config.toml)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Generate(ctx context.Context, prompt string, image []byte, mimeType string, expectJSON bool) (string, error) {
	parts := []*genai.Part{
		{Text: prompt},
		{InlineData: &genai.Blob{Data: image, MIMEType: mimeType}},
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{{Parts: parts}}, GenerateConfig(expectJSON))
	if err != nil {
		return "", err
	}
	return result.Text()
}

// GenerateConfig asks for a JSON response when the prompt expects one.
func GenerateConfig(expectJSON bool) *genai.GenerateContentConfig {
	if !expectJSON {
		return &genai.GenerateContentConfig{}
	}
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
}

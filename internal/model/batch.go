package model

import "encoding/json"

// RequestLine is one line of a batch request file.
type RequestLine struct {
	CustomID string `json:"custom_id"`
	Method   string `json:"method"`
	URL      string `json:"url"`
	Body     any    `json:"body"`
}

type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// Message content is either a plain string or a list of ContentPart.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type EmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ResultLine is one line of a batch output file.
type ResultLine struct {
	ID       string          `json:"id,omitempty"`
	CustomID string          `json:"custom_id"`
	Response *ResultResponse `json:"response"`
	Error    json.RawMessage `json:"error,omitempty"`
}

type ResultResponse struct {
	StatusCode int             `json:"status_code"`
	RequestID  string          `json:"request_id,omitempty"`
	Body       json.RawMessage `json:"body"`
}

type ChatCompletion struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int            `json:"index"`
	Message      MessageContent `json:"message"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

type MessageContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type EmbeddingList struct {
	Model *string         `json:"model"`
	Data  []EmbeddingData `json:"data"`
}

type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingRecord is the artifact written per embeddings result.
type EmbeddingRecord struct {
	CustomID   string    `json:"custom_id"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Embedding  []float64 `json:"embedding"`
}

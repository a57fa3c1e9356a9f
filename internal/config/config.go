package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultEnvPath    = ".env.dw"
	TokenEnvKey       = "DOUBLEWORD_AUTH_TOKEN"
)

type Config struct {
	Models ModelsConfig `toml:"models"`
	Output OutputConfig `toml:"output"`
	API    APIConfig    `toml:"api"`
	Batch  BatchConfig  `toml:"batch"`
	Gemini GeminiConfig `toml:"gemini"`
}

type ModelsConfig struct {
	DefaultModel   string `toml:"default_model"`
	EmbeddingModel string `toml:"embedding_model"`
}

type OutputConfig struct {
	MaxTokens int `toml:"max_tokens"`
}

type APIConfig struct {
	BaseURL                 string `toml:"base_url"`
	ChatCompletionsEndpoint string `toml:"chat_completions_endpoint"`
	EmbeddingsEndpoint      string `toml:"embeddings_endpoint"`
	CompletionWindow        string `toml:"completion_window"`
	Timeout                 string `toml:"timeout"`
}

type BatchConfig struct {
	PromptFile  string `toml:"prompt_file"`
	Concurrency int    `toml:"concurrency"`
}

type GeminiConfig struct {
	Project  string `toml:"project"`
	Location string `toml:"location"`
	Model    string `toml:"model"`
}

// Settings is the process-wide configuration: the static document plus the
// bearer token. It is returned by value and never mutated after Load.
type Settings struct {
	Config
	Token Token

	timeout time.Duration
}

// RequestTimeout is the parsed [api] timeout.
func (s Settings) RequestTimeout() time.Duration {
	return s.timeout
}

// Token holds the bearer token. Its String form is redacted so it can be
// passed to fmt or log without leaking the secret.
type Token struct {
	value string
}

func NewToken(value string) Token {
	return Token{value: value}
}

func (t Token) Value() string {
	return t.value
}

func (t Token) Redacted() string {
	if len(t.value) <= 4 {
		return "..."
	}
	return "..." + t.value[len(t.value)-4:]
}

func (t Token) String() string {
	return t.Redacted()
}

// Error is a fatal configuration problem together with the steps that fix it.
type Error struct {
	Problem string
	Remedy  []string
}

func (e *Error) Error() string {
	return e.Problem
}

type Paths struct {
	ConfigFile string
	EnvFile    string
}

func Load(paths Paths) (Settings, error) {
	if paths.ConfigFile == "" {
		paths.ConfigFile = DefaultConfigPath
	}
	if paths.EnvFile == "" {
		paths.EnvFile = DefaultEnvPath
	}

	data, err := os.ReadFile(paths.ConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, &Error{
			Problem: fmt.Sprintf("Configuration file not found: %s", paths.ConfigFile),
			Remedy:  []string{"Create config.toml or pass --config with its path"},
		}
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", paths.ConfigFile, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Settings{}, &Error{
			Problem: fmt.Sprintf("Invalid configuration file %s: %v", paths.ConfigFile, err),
			Remedy:  []string{"Fix the TOML syntax in config.toml"},
		}
	}
	setDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return Settings{}, err
	}

	timeout, err := time.ParseDuration(cfg.API.Timeout)
	if err != nil {
		return Settings{}, &Error{
			Problem: fmt.Sprintf("Invalid [api] timeout %q: %v", cfg.API.Timeout, err),
			Remedy:  []string{`Use a Go duration such as "60s" or "2m"`},
		}
	}

	token, err := loadToken(paths.EnvFile)
	if err != nil {
		return Settings{}, err
	}

	return Settings{Config: cfg, Token: token, timeout: timeout}, nil
}

// loadToken reads the secret file without touching the process environment.
// A token already exported in the environment takes precedence.
func loadToken(envFile string) (Token, error) {
	if v := os.Getenv(TokenEnvKey); v != "" {
		return NewToken(v), nil
	}

	values, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Token{}, fmt.Errorf("read env file %s: %w", envFile, err)
	}
	if v := values[TokenEnvKey]; v != "" {
		return NewToken(v), nil
	}

	return Token{}, &Error{
		Problem: fmt.Sprintf("%s not found", TokenEnvKey),
		Remedy: []string{
			fmt.Sprintf("Create %s from .env.dw.sample", envFile),
			fmt.Sprintf("Add your %s to %s", TokenEnvKey, envFile),
		},
	}
}

func setDefaults(cfg *Config) {
	if cfg.API.EmbeddingsEndpoint == "" {
		cfg.API.EmbeddingsEndpoint = "/v1/embeddings"
	}
	if cfg.API.CompletionWindow == "" {
		cfg.API.CompletionWindow = "24h"
	}
	if cfg.API.Timeout == "" {
		cfg.API.Timeout = "60s"
	}
	if cfg.Models.EmbeddingModel == "" {
		cfg.Models.EmbeddingModel = cfg.Models.DefaultModel
	}
	if cfg.Batch.PromptFile == "" {
		cfg.Batch.PromptFile = "prompt.txt"
	}
	if cfg.Batch.Concurrency <= 0 {
		cfg.Batch.Concurrency = 1
	}
	if cfg.Gemini.Location == "" {
		cfg.Gemini.Location = "us-central1"
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash"
	}
}

func validate(cfg *Config) error {
	var missing []string
	if cfg.Models.DefaultModel == "" {
		missing = append(missing, "[models] default_model")
	}
	if cfg.Output.MaxTokens <= 0 {
		missing = append(missing, "[output] max_tokens")
	}
	if cfg.API.BaseURL == "" {
		missing = append(missing, "[api] base_url")
	}
	if cfg.API.ChatCompletionsEndpoint == "" {
		missing = append(missing, "[api] chat_completions_endpoint")
	}
	if len(missing) == 0 {
		return nil
	}

	remedy := make([]string, 0, len(missing))
	for _, key := range missing {
		remedy = append(remedy, "Set "+key+" in config.toml")
	}
	return &Error{Problem: "Configuration is incomplete", Remedy: remedy}
}

// LoadPrompt returns the prompt template text.
func LoadPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}
	return string(data), nil
}

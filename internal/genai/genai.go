// Package genai provides the language-model oracle behind the assistant.
//
// The Client turns chat messages and images into validated intents and plans. It talks
// to OpenAI (openai-go) or Gemini (google.golang.org/genai), always requests JSON output,
// and repairs malformed JSON before validating it.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

var (
	// ErrNoChoicesReturned is returned when the backend answers without any content.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrMalformedOutput is returned when the model output cannot be decoded or validated.
	ErrMalformedOutput = errors.New("malformed model output")
)

// Supported backends.
const (
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)

// Default settings.
const (
	DefaultOpenAIModel         = "gpt-4o-mini"
	DefaultGeminiModel         = "gemini-2.5-flash"
	DefaultTemperature         = 0.2
	DefaultMaxCompletionTokens = 2048
)

// Opts holds configuration for the GenAI client.
type Opts struct {
	Backend             string
	APIKey              string // OpenAI API key
	GeminiAPIKey        string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	Location            *time.Location
	DebugDir            string // when set, every exchange is written under DebugDir/debug
	Observe             func(op string, d time.Duration)
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithGeminiAPIKey sets the Gemini API key.
func WithGeminiAPIKey(key string) Option {
	return func(o *Opts) { o.GeminiAPIKey = key }
}

// WithBackend selects "openai" or "gemini".
func WithBackend(backend string) Option {
	return func(o *Opts) { o.Backend = backend }
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens caps the response length.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithLocation sets the time zone used to tell the model the current date.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithDebugDir enables writing request/response dumps under dir/debug.
func WithDebugDir(dir string) Option {
	return func(o *Opts) { o.DebugDir = dir }
}

// WithLatencyObserver reports the duration of every model exchange by operation name.
func WithLatencyObserver(observe func(op string, d time.Duration)) Option {
	return func(o *Opts) { o.Observe = observe }
}

// completionRequest is one single-turn exchange with the model.
type completionRequest struct {
	System    string
	User      string
	Image     []byte
	ImageMIME string
}

// completer is implemented by each backend.
type completer interface {
	complete(ctx context.Context, req completionRequest) (string, error)
	name() string
}

// Client is the intent oracle.
type Client struct {
	backend  completer
	loc      *time.Location
	now      func() time.Time
	debugDir string
	observe  func(op string, d time.Duration)
}

// NewClient builds a client for the configured backend. Keys fall back to the
// OPENAI_API_KEY and GEMINI_API_KEY environment variables.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Backend:             BackendOpenAI,
		Temperature:         DefaultTemperature,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	var backend completer
	switch cfg.Backend {
	case BackendOpenAI, "":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		model := cfg.Model
		if model == "" {
			model = DefaultOpenAIModel
		}
		backend = newOpenAIBackend(key, model, cfg.Temperature, cfg.MaxCompletionTokens)
	case BackendGemini:
		key := cfg.GeminiAPIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY not set")
		}
		model := cfg.Model
		if model == "" {
			model = DefaultGeminiModel
		}
		b, err := newGeminiBackend(key, model, cfg.Temperature)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown genai backend %q", cfg.Backend)
	}

	slog.Info("GenAI client initialized", "backend", backend.name(), "model", cfg.Model, "debug", cfg.DebugDir != "")
	return &Client{backend: backend, loc: cfg.Location, now: time.Now, debugDir: cfg.DebugDir, observe: cfg.Observe}, nil
}

// generate runs one exchange and returns the raw model text.
func (c *Client) generate(ctx context.Context, op string, req completionRequest) (string, error) {
	start := time.Now()
	out, err := c.backend.complete(ctx, req)
	elapsed := time.Since(start)
	if c.observe != nil {
		c.observe(op, elapsed)
	}
	slog.Debug("GenAI.generate", "op", op, "backend", c.backend.name(), "duration", elapsed, "hasImage", len(req.Image) > 0, "error", err)
	if c.debugDir != "" {
		c.writeDebug(op, req, out, err)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

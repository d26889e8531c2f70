// Package llm wraps the inference service behind a small client interface so
// workers depend on role-tagged messages and flags, not on a provider SDK.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/openrecords/foiabuddy/pkg/config"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAI     Role = "assistant"
)

// thinkingDirective is the system line Nemotron-style endpoints read to turn
// on an extended reasoning trace.
const thinkingDirective = "detailed thinking on"

// Message is one entry in an inference request.
type Message struct {
	Role    Role
	Content string
}

// Response carries generated text plus the optional reasoning trace.
type Response struct {
	Content   string
	Reasoning string
}

// Client is the inference-service boundary. Implementations must honour the
// context deadline; a transport or provider error is returned as a Go error
// and callers convert it into a failed stage result.
type Client interface {
	Generate(ctx context.Context, messages []Message, opts ...Option) (*Response, error)
}

// Tracer receives a record of every model call, keyed by run and stage, for
// the model-call log.
type Tracer interface {
	LogLLM(runID, stage string, prompt any, response string)
}

// Option tunes a single generation call.
type Option func(*callSettings)

type callSettings struct {
	temperature float64
	maxTokens   int
	thinking    bool
	traceRun    string
	traceStage  string
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *callSettings) { s.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(s *callSettings) { s.maxTokens = n }
}

// WithThinking asks the provider for an extended reasoning trace by
// prepending the "detailed thinking on" system directive Nemotron-style
// endpoints recognise. Providers without the convention treat it as an
// ordinary system line and ignore it.
func WithThinking() Option {
	return func(s *callSettings) { s.thinking = true }
}

// WithTrace tags the call with a run and stage so the client's tracer can
// record it in the model-call log.
func WithTrace(runID, stage string) Option {
	return func(s *callSettings) {
		s.traceRun = runID
		s.traceStage = stage
	}
}

// LangChainClient is the production Client backed by an OpenAI-compatible
// endpoint via langchaingo.
type LangChainClient struct {
	model   llms.Model
	timeout time.Duration
	tracer  Tracer
}

// ClientOption configures the client at construction time.
type ClientOption func(*LangChainClient)

// WithTracer records every traced call in the given log.
func WithTracer(t Tracer) ClientOption {
	return func(c *LangChainClient) { c.tracer = t }
}

// New builds a client from provider configuration. Every call is bounded by
// the pipeline stage timeout.
func New(cfg *config.Config, clientOpts ...ClientOption) (*LangChainClient, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.Provider.APIKey),
		openai.WithModel(cfg.Provider.Model),
	}
	if cfg.Provider.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Provider.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: init provider %s: %w", cfg.Provider.Name, err)
	}
	c := &LangChainClient{model: model, timeout: cfg.Pipeline.StageTimeout}
	for _, opt := range clientOpts {
		opt(c)
	}
	return c, nil
}

// FromModel wraps an existing langchaingo model; used by tests and by hosts
// that construct the model themselves.
func FromModel(model llms.Model, timeout time.Duration, clientOpts ...ClientOption) *LangChainClient {
	c := &LangChainClient{model: model, timeout: timeout}
	for _, opt := range clientOpts {
		opt(c)
	}
	return c
}

// Generate sends the messages and returns content plus any reasoning trace
// the provider attached to the choice.
func (c *LangChainClient) Generate(ctx context.Context, messages []Message, opts ...Option) (*Response, error) {
	settings := callSettings{temperature: 0.6, maxTokens: 2048}
	for _, opt := range opts {
		opt(&settings)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	content := make([]llms.MessageContent, 0, len(messages)+1)
	if settings.thinking {
		content = append(content, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(thinkingDirective)},
		})
	}
	for _, m := range messages {
		content = append(content, llms.MessageContent{
			Role:  chatType(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(settings.temperature),
		llms.WithMaxTokens(settings.maxTokens),
	}

	resp, err := c.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("llm: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: provider returned no choices")
	}

	choice := resp.Choices[0]
	if c.tracer != nil && settings.traceRun != "" {
		c.tracer.LogLLM(settings.traceRun, settings.traceStage, messages, choice.Content)
	}
	return &Response{
		Content:   choice.Content,
		Reasoning: reasoningFrom(choice),
	}, nil
}

func chatType(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAI:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// reasoningFrom pulls the reasoning trace out of generation info when the
// provider exposes one (NVIDIA and deepseek-style endpoints do).
func reasoningFrom(choice *llms.ContentChoice) string {
	if choice.GenerationInfo == nil {
		return ""
	}
	for _, key := range []string{"reasoning_content", "reasoning"} {
		if v, ok := choice.GenerationInfo[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

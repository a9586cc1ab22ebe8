// Package llm is the boundary to the text generation capability. A provider
// turns a prompt into text in a single blocking call; how it gets there
// (one request, a token stream) is its own business.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mtzanidakis/realtymesh/internal/config"
)

var (
	// ErrNoFinalResponse means the provider finished without ever producing
	// a terminal answer. It differs from the provider reporting an error.
	ErrNoFinalResponse = errors.New("no final response from agent")
	// ErrUnavailable is returned by the "none" provider.
	ErrUnavailable = errors.New("generation capability unavailable")
)

type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

type Prompt struct {
	System   string
	Messages []Message
}

// Generator produces the final text for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
	Name() string
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return NewAnthropic(cfg)
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.Model), nil
	case "none":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// None never generates anything. Workers running on it always take their
// failure or fallback path.
type None struct{}

func (None) Generate(context.Context, Prompt) (string, error) {
	return "", ErrUnavailable
}

func (None) Name() string { return "none" }

// Func adapts a plain function into a Generator. Used by tests and by
// callers that want to script replies.
type Func func(ctx context.Context, p Prompt) (string, error)

func (f Func) Generate(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

func (Func) Name() string { return "func" }

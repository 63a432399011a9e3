// Package llm provides chat-completion clients for the pipeline's LLM calls:
// claim extraction, article classification, query planning, judgment, and
// summary generation.
//
// A ChatCompleter interface with OpenAI (primary) and Anthropic (secondary)
// implementations allows each consumer to take the fallback chain it needs.
// When no provider is configured the Noop completer returns ErrUnavailable,
// which pushes every consumer onto its deterministic fallback path.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable signals that no LLM provider is configured or reachable.
// Consumers treat it as "use the rule-based fallback", not as a job failure.
var ErrUnavailable = errors.New("llm: no provider available")

// Request is a single chat completion call.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// ForceJSON asks the provider to constrain output to a JSON object.
	ForceJSON bool
}

// ChatCompleter executes one chat completion and returns the text content.
type ChatCompleter interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Noop is the completer used when no API keys are configured.
type Noop struct{}

// Complete always returns ErrUnavailable.
func (Noop) Complete(context.Context, Request) (string, error) { return "", ErrUnavailable }

// Name identifies the noop completer.
func (Noop) Name() string { return "noop" }

// Fallback tries each completer in order, returning the first success.
// Provider errors short of the last are logged by callers via the wrapped
// error chain; ErrUnavailable is returned only when every provider fails.
type Fallback struct {
	chain []ChatCompleter
}

// NewFallback builds a fallback chain. Nil entries are skipped.
func NewFallback(completers ...ChatCompleter) *Fallback {
	chain := make([]ChatCompleter, 0, len(completers))
	for _, c := range completers {
		if c != nil {
			chain = append(chain, c)
		}
	}
	return &Fallback{chain: chain}
}

// Complete tries each provider in order.
func (f *Fallback) Complete(ctx context.Context, req Request) (string, error) {
	if len(f.chain) == 0 {
		return "", ErrUnavailable
	}
	var lastErr error
	for _, c := range f.chain {
		out, err := c.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = fmt.Errorf("llm: %s: %w", c.Name(), err)
		if ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// Name identifies the fallback chain by its members.
func (f *Fallback) Name() string {
	names := make([]string, len(f.chain))
	for i, c := range f.chain {
		names[i] = c.Name()
	}
	return "fallback(" + strings.Join(names, ",") + ")"
}

// DecodeStrict parses an LLM response as JSON into out, tolerating markdown
// code fences but rejecting anything that is not a single JSON document.
// Unknown fields are rejected so schema drift surfaces as a parse error
// (which consumers convert to their rule-based fallback) instead of silently
// dropping data.
func DecodeStrict(raw string, out any) error {
	cleaned := StripFences(raw)
	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("llm: decode response: %w", err)
	}
	// A trailing second document means the model kept talking after the JSON.
	if dec.More() {
		return fmt.Errorf("llm: decode response: trailing content after JSON document")
	}
	return nil
}

// StripFences removes a surrounding markdown code fence, if present.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

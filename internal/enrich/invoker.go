package enrich

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

// DefaultTimeout bounds a single backend call when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// Sampling controls model decoding.
type Sampling struct {
	Temperature     float32
	MaxOutputTokens int
	// ContextTokens is honoured by backends that expose a context window option.
	ContextTokens int
}

// DefaultSampling returns deterministic, short-output sampling.
func DefaultSampling() Sampling {
	return Sampling{
		Temperature:     0,
		MaxOutputTokens: 300,
		ContextTokens:   1000,
	}
}

// Request is one chat-style completion request.
type Request struct {
	System   string
	Prompt   string
	Schema   *schema.Schema
	Sampling Sampling
}

// Backend produces completion text for a request. Implementations must be safe for
// concurrent use.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func (f BackendFunc) Name() string { return "func" }

// Invoker performs one backend round trip per item with a deadline and a uniform
// error surface.
type Invoker struct {
	backend Backend
	timeout time.Duration
}

// NewInvoker wraps backend. A non-positive timeout selects DefaultTimeout.
func NewInvoker(backend Backend, timeout time.Duration) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{backend: backend, timeout: timeout}
}

// BackendName reports the wrapped backend's name.
func (i *Invoker) BackendName() string {
	if i == nil || i.backend == nil {
		return ""
	}
	return i.backend.Name()
}

// Invoke sends req and returns the normalized completion text. Every failure is a
// *BackendInvocationError.
func (i *Invoker) Invoke(ctx context.Context, key any, req Request) (string, error) {
	name := i.BackendName()
	if i == nil || i.backend == nil {
		return "", &BackendInvocationError{Identifier: key, Backend: name, Err: errors.New("no backend configured")}
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	text, err := i.backend.Complete(callCtx, req)
	if err != nil {
		return "", &BackendInvocationError{Identifier: key, Backend: name, Err: err}
	}
	text = NormalizeCompletion(text)
	if text == "" {
		return "", &BackendInvocationError{Identifier: key, Backend: name, Err: errors.New("empty completion")}
	}
	return text, nil
}

var (
	thinkBlockRe = regexp.MustCompile(`(?s)^<think>.*?</think>`)
	codeFenceRe  = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*\\s*\n(.*?)\\s*```$")
)

// NormalizeCompletion trims whitespace, a leading <think> block and a surrounding
// markdown code fence.
func NormalizeCompletion(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(thinkBlockRe.ReplaceAllString(text, ""))
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	return text
}

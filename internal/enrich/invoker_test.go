package enrich_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
)

func TestNormalizeCompletion(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  {\"a\":1}\n", want: `{"a":1}`},
		{name: "think block", in: "<think>\nthe user wants json\n</think>\n{\"a\":1}", want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "think then fence", in: "<think>hm</think>```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose untouched", in: "Sure! {\"a\":1}", want: "Sure! {\"a\":1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, enrich.NormalizeCompletion(tt.in))
		})
	}
}

func TestInvoker_WrapsErrors(t *testing.T) {
	transportErr := errors.New("connection refused")
	inv := enrich.NewInvoker(enrich.BackendFunc(func(context.Context, enrich.Request) (string, error) {
		return "", transportErr
	}), time.Second)

	_, err := inv.Invoke(context.Background(), int64(4), enrich.Request{})
	var be *enrich.BackendInvocationError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, int64(4), be.Identifier)
	assert.Equal(t, "func", be.Backend)
	assert.ErrorIs(t, err, transportErr)
}

func TestInvoker_EmptyCompletionIsBackendError(t *testing.T) {
	inv := enrich.NewInvoker(enrich.BackendFunc(func(context.Context, enrich.Request) (string, error) {
		return "<think>nothing</think>  ", nil
	}), time.Second)

	_, err := inv.Invoke(context.Background(), "SKU-1", enrich.Request{})
	var be *enrich.BackendInvocationError
	require.ErrorAs(t, err, &be)
}

func TestInvoker_AppliesTimeout(t *testing.T) {
	inv := enrich.NewInvoker(enrich.BackendFunc(func(ctx context.Context, _ enrich.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), 20*time.Millisecond)

	start := time.Now()
	_, err := inv.Invoke(context.Background(), "slow", enrich.Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestInvoker_ReturnsNormalizedText(t *testing.T) {
	var got enrich.Request
	inv := enrich.NewInvoker(enrich.BackendFunc(func(_ context.Context, req enrich.Request) (string, error) {
		got = req
		return "```json\n{\"brand\":\"Duracell\"}\n```", nil
	}), 0)

	req := enrich.Request{System: "sys", Prompt: "user", Sampling: enrich.DefaultSampling()}
	text, err := inv.Invoke(context.Background(), "k", req)
	require.NoError(t, err)
	assert.Equal(t, `{"brand":"Duracell"}`, text)
	assert.Equal(t, req, got)
}

func TestTracedBackend_LogsRequestAndResponse(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	traced := enrich.NewTracedBackend(enrich.BackendFunc(func(context.Context, enrich.Request) (string, error) {
		return `{"ok":true}`, nil
	}), zap.New(core))

	out, err := traced.Complete(context.Background(), enrich.Request{Prompt: "api_key=secret123 hello"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "completion request", entries[0].Message)
	assert.NotContains(t, entries[0].ContextMap()["prompt"], "secret123")
	assert.Equal(t, "ok", entries[1].ContextMap()["status"])
}

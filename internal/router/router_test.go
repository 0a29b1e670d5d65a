package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloopai/model-router/internal/catalog"
	"github.com/bloopai/model-router/internal/provider"
	"github.com/bloopai/model-router/internal/registry"
)

type mockProvider struct {
	name         string
	defaultModel string
	caps         catalog.Capabilities
	generateErr  error
	content      string
	calls        int

	// native streaming, enabled via mockStreamProvider
	chunks    []*provider.Chunk
	streamErr error
}

func (m *mockProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	m.calls++
	if m.generateErr != nil {
		return nil, m.generateErr
	}
	model := req.Model
	if model == "" {
		model = m.defaultModel
	}
	return &provider.Response{
		Content:      m.content,
		Model:        model,
		Provider:     m.name,
		Usage:        provider.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		FinishReason: "stop",
	}, nil
}

func (m *mockProvider) Name() string         { return m.name }
func (m *mockProvider) DefaultModel() string { return m.defaultModel }

func (m *mockProvider) Catalog() []catalog.ModelInfo {
	return []catalog.ModelInfo{{Provider: m.name, Model: m.defaultModel, Capabilities: m.caps}}
}

type mockStreamProvider struct {
	mockProvider
}

func (m *mockStreamProvider) GenerateStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	m.calls++
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	ch := make(chan *provider.Chunk, len(m.chunks))
	for _, c := range m.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func defaultCaps() catalog.Capabilities {
	return catalog.Capabilities{
		Streaming:        true,
		MaxContextTokens: 100000,
		CostPer1KTokens:  catalog.CostPer1K{Input: 0.001, Output: 0.002},
		Speed:            catalog.SpeedMedium,
		Quality:          catalog.QualityMedium,
	}
}

func newTestRouter(t *testing.T, providers ...provider.Provider) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	for _, p := range providers {
		require.NoError(t, reg.Register(p))
	}
	return New(reg, reg.Catalog(), zap.NewNop(), 0), reg
}

func userRequest(text string) *provider.Request {
	return &provider.Request{
		Messages: []provider.Message{{Role: "user", Content: text}},
	}
}

func TestExecute_PreferredProviderSucceeds(t *testing.T) {
	a := &mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps(), content: "hi"}
	b := &mockProvider{name: "b", defaultModel: "b-model", caps: defaultCaps(), content: "hi"}
	rt, _ := newTestRouter(t, a, b)

	result, err := rt.Execute(context.Background(), userRequest("hello"))
	require.NoError(t, err)

	assert.Equal(t, "a", result.Provider)
	assert.Nil(t, result.Fallback)
	assert.Equal(t, 0, b.calls)
	assert.Len(t, result.Attempts, 1)
}

func TestExecute_FallbackOrdering(t *testing.T) {
	// P1: a fails, b succeeds; response comes from b with the
	// fallback annotation naming a.
	a := &mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps(), generateErr: errors.New("rate limited")}
	b := &mockProvider{name: "b", defaultModel: "b-model", caps: defaultCaps(), content: "hello"}
	rt, _ := newTestRouter(t, a, b)

	result, err := rt.Execute(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, "hello", result.Response.Content)
	assert.Equal(t, "b", result.Provider)
	require.NotNil(t, result.Fallback)
	assert.Equal(t, "a", result.Fallback.OriginalProvider)
	assert.Equal(t, "a: rate limited", result.Fallback.Reason)
}

func TestExecute_FallbackUsesProviderDefaultModel(t *testing.T) {
	a := &mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps(), generateErr: errors.New("down")}
	b := &mockProvider{name: "b", defaultModel: "b-model", caps: defaultCaps(), content: "x"}
	rt, _ := newTestRouter(t, a, b)

	result, err := rt.Execute(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	// No model is forced on a fallback provider.
	assert.Equal(t, "b-model", result.Model)
}

func TestExecute_AllProvidersFail(t *testing.T) {
	// P2: exhaustion yields one error entry per provider, in order.
	a := &mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps(), generateErr: errors.New("timeout")}
	b := &mockProvider{name: "b", defaultModel: "b-model", caps: defaultCaps(), generateErr: errors.New("bad key")}
	rt, _ := newTestRouter(t, a, b)

	_, err := rt.Execute(context.Background(), userRequest("hi"))

	var allFailed *AllFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Equal(t, []string{"a: timeout", "b: bad key"}, allFailed.Details())
}

func TestExecute_EmptyMessagesNeverContactsProviders(t *testing.T) {
	// P5: validation precedes I/O.
	a := &mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps()}
	rt, _ := newTestRouter(t, a)

	_, err := rt.Execute(context.Background(), &provider.Request{})

	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, a.calls)
}

func TestExecute_EmptyCatalog(t *testing.T) {
	// Scenario D: selection fails synchronously before any attempt.
	rt, _ := newTestRouter(t)

	_, err := rt.Execute(context.Background(), userRequest("hi"))

	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestExecute_TruncatesProviderErrors(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	a := &mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps(), generateErr: errors.New(string(long))}
	rt, _ := newTestRouter(t, a)

	_, err := rt.Execute(context.Background(), userRequest("hi"))

	var allFailed *AllFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Len(t, allFailed.Attempts[0].Error, DefaultTruncateLen)
}

func TestExecute_TruncationKeepsRuneBoundaries(t *testing.T) {
	// A multi-byte rune straddling the cut must not leave invalid
	// UTF-8 in the surfaced error.
	msg := strings.Repeat("x", DefaultTruncateLen-1) + "é"
	a := &mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps(), generateErr: errors.New(msg)}
	rt, _ := newTestRouter(t, a)

	_, err := rt.Execute(context.Background(), userRequest("hi"))

	var allFailed *AllFailedError
	require.ErrorAs(t, err, &allFailed)
	got := allFailed.Attempts[0].Error
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("x", DefaultTruncateLen-1), got)
}

type cancellingProvider struct {
	mockProvider
	cancel context.CancelFunc
}

func (p *cancellingProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	p.calls++
	p.cancel()
	return nil, ctx.Err()
}

func TestExecute_CancellationDoesNotAffectAvailability(t *testing.T) {
	// A caller disconnect is not a provider failure: repeated
	// cancellations must not open the breaker for later requests.
	a := &cancellingProvider{mockProvider: mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps()}}
	rt, reg := newTestRouter(t, a)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		_, err := rt.Execute(ctx, userRequest("hi"))
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, []string{"a"}, reg.Available())
	assert.Equal(t, 3, a.calls)
}

func TestExecute_ExplicitModelPinsPreferredProvider(t *testing.T) {
	a := &mockProvider{name: "openai", defaultModel: "gpt-4o", caps: defaultCaps(), content: "x"}
	b := &mockProvider{name: "anthropic", defaultModel: "claude-3-5-sonnet-20241022", caps: defaultCaps(), content: "x"}
	rt, _ := newTestRouter(t, a, b)

	req := userRequest("hi")
	req.Model = "claude-3-5-haiku-20241022"
	result, err := rt.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", result.Provider)
	assert.Equal(t, "claude-3-5-haiku-20241022", result.Model)
	assert.Equal(t, 0, a.calls)
}

func TestExecute_NoIntraProviderRetry(t *testing.T) {
	a := &mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps(), generateErr: errors.New("boom")}
	b := &mockProvider{name: "b", defaultModel: "b-model", caps: defaultCaps(), content: "x"}
	rt, _ := newTestRouter(t, a, b)

	_, err := rt.Execute(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, 1, a.calls)
}

func TestExecute_RepeatedFailuresTripAvailability(t *testing.T) {
	a := &mockProvider{name: "a", defaultModel: "a-model", caps: defaultCaps(), generateErr: errors.New("down")}
	b := &mockProvider{name: "b", defaultModel: "b-model", caps: defaultCaps(), content: "x"}
	rt, reg := newTestRouter(t, a, b)

	for i := 0; i < 3; i++ {
		_, err := rt.Execute(context.Background(), userRequest("hi"))
		require.NoError(t, err)
	}

	// After three consecutive failures the breaker opens and a drops
	// out of the availability snapshot for later requests.
	assert.Equal(t, []string{"b"}, reg.Available())

	calls := a.calls
	_, err := rt.Execute(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, calls, a.calls)
}

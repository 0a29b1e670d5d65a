package router

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bloopai/model-router/internal/provider"
	"github.com/bloopai/model-router/internal/selector"
)

// streamChunkSize is the fragment size used when synthesizing a
// stream from a blocking response.
const streamChunkSize = 12

var errStreamEnded = errors.New("stream ended without completion")

// Stream routes a streaming request and returns a uniform event
// sequence regardless of whether the serving provider streams
// natively. Selection and try-list errors surface synchronously,
// before any event is produced. The returned channel is closed right
// after the terminal event.
func (r *Router) Stream(ctx context.Context, req *provider.Request) (<-chan StreamEvent, error) {
	sel, list, err := r.plan(req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		r.relay(ctx, req, sel, list, events)
	}()
	return events, nil
}

// relay walks the try-list with the same sequential fallback
// discipline as Execute. Per attempt it emits a meta event before any
// network call, so callers observe fallbacks live. Attempt failures
// are recorded and swallowed; only exhaustion emits the terminal
// error event.
func (r *Router) relay(ctx context.Context, req *provider.Request, sel selector.Selection, list []string, events chan<- StreamEvent) {
	var attempts []Attempt

	for _, name := range list {
		if ctx.Err() != nil {
			return
		}

		p, ok := r.registry.Get(name)
		if !ok {
			continue
		}

		attemptReq := attemptRequest(req, sel, name)
		model := attemptReq.Model
		if model == "" {
			model = p.DefaultModel()
		}

		if !emit(ctx, events, StreamEvent{Type: EventMeta, Provider: name, Model: model}) {
			return
		}

		attemptStart := time.Now()
		var attemptErr error
		var done bool

		if sp, isStream := p.(provider.StreamProvider); isStream {
			done, attemptErr = r.relayNative(ctx, sp, attemptReq, name, model, events)
		} else {
			done, attemptErr = r.relaySynthesized(ctx, p, attemptReq, name, events)
		}
		elapsed := time.Since(attemptStart)
		if !cancelled(ctx, attemptErr) {
			r.registry.ReportOutcome(name, attemptErr)
		}

		if done {
			return
		}
		if ctx.Err() != nil {
			return
		}

		attempt := Attempt{
			Provider:   name,
			Model:      model,
			Error:      r.truncate(attemptErr.Error()),
			DurationMs: elapsed.Milliseconds(),
		}
		attempts = append(attempts, attempt)
		r.log.Warn("streaming attempt failed",
			zap.String("provider", name),
			zap.String("error", attempt.Error),
			zap.Int64("duration_ms", attempt.DurationMs),
		)
	}

	failure := &AllFailedError{Attempts: attempts}
	emit(ctx, events, StreamEvent{
		Type:    EventError,
		Error:   failure.Error(),
		Details: failure.Details(),
	})
}

// relayNative forwards a provider's own token stream. An error chunk
// aborts the attempt without a terminal event; the caller decides
// whether another provider gets a turn.
func (r *Router) relayNative(ctx context.Context, p provider.StreamProvider, req *provider.Request, name, model string, events chan<- StreamEvent) (bool, error) {
	ch, err := p.GenerateStream(ctx, req)
	if err != nil {
		return false, err
	}

	for chunk := range ch {
		if chunk.Err != nil {
			return false, chunk.Err
		}
		if chunk.Done {
			return emit(ctx, events, StreamEvent{
				Type:         EventDone,
				Provider:     name,
				Model:        model,
				Usage:        chunk.Usage,
				FinishReason: chunk.FinishReason,
			}), nil
		}
		if chunk.Delta == "" {
			continue
		}
		if !emit(ctx, events, StreamEvent{Type: EventContent, Provider: name, Content: chunk.Delta}) {
			return false, ctx.Err()
		}
	}

	return false, errStreamEnded
}

// relaySynthesized performs a blocking generate and slices the result
// into fixed-size content fragments, preserving exact concatenation,
// followed by a done event carrying the real usage metadata.
func (r *Router) relaySynthesized(ctx context.Context, p provider.Provider, req *provider.Request, name string, events chan<- StreamEvent) (bool, error) {
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return false, err
	}

	content := resp.Content
	for len(content) > 0 {
		n := streamChunkSize
		if n > len(content) {
			n = len(content)
		}
		if !emit(ctx, events, StreamEvent{Type: EventContent, Provider: name, Content: content[:n]}) {
			return false, ctx.Err()
		}
		content = content[n:]
	}

	usage := resp.Usage
	return emit(ctx, events, StreamEvent{
		Type:         EventDone,
		Provider:     name,
		Model:        resp.Model,
		Usage:        &usage,
		FinishReason: resp.FinishReason,
	}), nil
}

// emit writes an event unless the caller has gone away.
func emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

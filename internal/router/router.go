package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bloopai/model-router/internal/catalog"
	"github.com/bloopai/model-router/internal/provider"
	"github.com/bloopai/model-router/internal/registry"
	"github.com/bloopai/model-router/internal/selector"
)

// DefaultTruncateLen bounds the provider error text carried in
// responses and logs.
const DefaultTruncateLen = 100

var (
	ErrInvalidRequest = errors.New("messages must not be empty")
	ErrNoneAvailable  = errors.New("all providers unavailable")
)

// ErrNoProviders is returned before any provider is contacted when
// the catalog is empty.
var ErrNoProviders = selector.ErrNoProviders

// Attempt records one provider attempt for a request. Request-local;
// consumed to build the fallback annotation or the error aggregate.
type Attempt struct {
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Succeeded  bool   `json:"succeeded"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (a Attempt) summary() string {
	return fmt.Sprintf("%s: %s", a.Provider, a.Error)
}

// Fallback annotates a response served by a provider other than the
// originally preferred one.
type Fallback struct {
	OriginalProvider string `json:"originalProvider"`
	Reason           string `json:"reason"`
}

// Result is a successful routing outcome.
type Result struct {
	Response *provider.Response
	Provider string
	Model    string
	Duration time.Duration
	Fallback *Fallback
	Attempts []Attempt
}

// AllFailedError is returned when every provider in the try-list
// failed. Details carries one truncated summary per provider, in
// try-list order.
type AllFailedError struct {
	Attempts []Attempt
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all providers failed (%d attempted)", len(e.Attempts))
}

func (e *AllFailedError) Details() []string {
	details := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		details[i] = a.summary()
	}
	return details
}

// Router walks a per-request try-list strictly sequentially: the
// selector's preferred provider first, then the remaining available
// providers in registry order. A failed attempt disqualifies that
// provider for the rest of the request; retries are cross-provider,
// never intra-provider.
type Router struct {
	registry    *registry.Registry
	catalog     *catalog.Catalog
	log         *zap.Logger
	truncateLen int
}

func New(reg *registry.Registry, cat *catalog.Catalog, log *zap.Logger, truncateLen int) *Router {
	if truncateLen <= 0 {
		truncateLen = DefaultTruncateLen
	}
	return &Router{
		registry:    reg,
		catalog:     cat,
		log:         log,
		truncateLen: truncateLen,
	}
}

// plan validates the request, runs selection, and snapshots the
// try-list. No provider is contacted.
func (r *Router) plan(req *provider.Request) (selector.Selection, []string, error) {
	if len(req.Messages) == 0 {
		return selector.Selection{}, nil, ErrInvalidRequest
	}

	sel, err := selector.Select(req, r.catalog)
	if err != nil {
		return selector.Selection{}, nil, err
	}

	list := r.tryList(sel.Provider)
	if len(list) == 0 {
		return selector.Selection{}, nil, ErrNoneAvailable
	}
	return sel, list, nil
}

// tryList snapshots the available providers once, with the preferred
// provider moved to the head. Availability is not re-checked
// mid-request.
func (r *Router) tryList(preferred string) []string {
	available := r.registry.Available()
	list := make([]string, 0, len(available))
	for _, name := range available {
		if name == preferred {
			list = append([]string{name}, list...)
			continue
		}
		list = append(list, name)
	}
	return list
}

// attemptRequest pins the selected model only for the preferred
// provider; fallback providers pick their own default.
func attemptRequest(req *provider.Request, sel selector.Selection, name string) *provider.Request {
	if name != sel.Provider {
		return req.CloneForFallback()
	}
	cp := *req
	cp.Model = sel.Model
	return &cp
}

// Execute routes a non-streaming request: first success wins, carrying
// a fallback annotation when the serving provider was not the
// preferred one; exhaustion yields AllFailedError.
func (r *Router) Execute(ctx context.Context, req *provider.Request) (*Result, error) {
	sel, list, err := r.plan(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var attempts []Attempt

	for _, name := range list {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		p, ok := r.registry.Get(name)
		if !ok {
			continue
		}

		attemptStart := time.Now()
		resp, err := p.Generate(ctx, attemptRequest(req, sel, name))
		elapsed := time.Since(attemptStart)
		if cancelled(ctx, err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		r.registry.ReportOutcome(name, err)

		if err != nil {
			attempt := Attempt{
				Provider:   name,
				Error:      r.truncate(err.Error()),
				DurationMs: elapsed.Milliseconds(),
			}
			attempts = append(attempts, attempt)
			r.log.Warn("provider attempt failed",
				zap.String("provider", name),
				zap.String("error", attempt.Error),
				zap.Int64("duration_ms", attempt.DurationMs),
			)
			continue
		}

		attempts = append(attempts, Attempt{
			Provider:   name,
			Model:      resp.Model,
			Succeeded:  true,
			DurationMs: elapsed.Milliseconds(),
		})

		result := &Result{
			Response: resp,
			Provider: name,
			Model:    resp.Model,
			Duration: time.Since(start),
			Attempts: attempts,
		}
		if name != sel.Provider {
			// The preferred provider either failed or was not in the
			// availability snapshot.
			reason := fmt.Sprintf("%s: unavailable", sel.Provider)
			if n := len(attempts); n >= 2 {
				reason = attempts[n-2].summary()
			}
			result.Fallback = &Fallback{
				OriginalProvider: sel.Provider,
				Reason:           reason,
			}
		}
		return result, nil
	}

	return nil, &AllFailedError{Attempts: attempts}
}

// cancelled reports whether an attempt ended because the caller went
// away rather than because the provider failed. Cancellations carry no
// signal about provider health and bypass outcome reporting.
func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// truncate bounds an error message, cutting at a rune boundary.
func (r *Router) truncate(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) <= r.truncateLen {
		return msg
	}
	cut := r.truncateLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

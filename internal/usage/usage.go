package usage

import (
	"context"
	"time"
)

// Record is the persisted outcome of one routed request: which
// provider served it, token usage, latency, and whether a fallback
// occurred.
type Record struct {
	ID           string
	RequestID    string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	FellBack     bool
	Attempts     int
	CreatedAt    time.Time
}

type Store interface {
	LogRequest(ctx context.Context, rec *Record) error
	GetByProvider(ctx context.Context, providerName string, from, to time.Time) ([]*Record, error)
}

// NopStore discards records; used when no database is configured.
type NopStore struct{}

func (NopStore) LogRequest(ctx context.Context, rec *Record) error {
	return nil
}

func (NopStore) GetByProvider(ctx context.Context, providerName string, from, to time.Time) ([]*Record, error) {
	return nil, nil
}

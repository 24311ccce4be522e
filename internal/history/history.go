// Package history exports supervision audit events (service lifecycle
// transitions, health verdict changes) to pluggable stores. Restart
// bookkeeping itself stays in memory; these sinks are observability only and
// are never read back by the supervisor.
package history

import (
	"context"
	"fmt"
	"time"
)

// Event kinds.
const (
	KindLifecycle = "lifecycle"
	KindHealth    = "health"
)

// Event is one audit record.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Service string    `json:"service"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Detail  string    `json:"detail,omitempty"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// use; a slow or failing sink must not block supervision.
type Sink interface {
	Record(ctx context.Context, e Event) error
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) error { return nil }
func (NopSink) Close() error                        { return nil }

// MultiSink fans out to several sinks. Record returns the first error but
// still delivers to every sink.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("close sink: %w", err)
		}
	}
	return first
}

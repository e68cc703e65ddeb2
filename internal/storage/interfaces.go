package storage

import (
	"context"

	"github.com/tailstream/engine/internal/storage/streams"
)

// Lifecycle manages component lifecycle.
type Lifecycle interface {
	// Start initializes and starts the component
	Start(ctx context.Context) error
	// Stop gracefully stops the component
	Stop(ctx context.Context) error
	// Ready returns true if the component is ready
	Ready() bool
}

// Backend is the storage surface the API layer depends on.
type Backend interface {
	Lifecycle
	// Streams returns the stream manager
	Streams() *streams.Manager
	// CheckHealth probes the persistence layer
	CheckHealth(ctx context.Context) error
}

var _ Backend = (*Store)(nil)

// Package storage owns the Pebble database and the managers built on it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"
	"github.com/tailstream/engine/internal/logger"
	"github.com/tailstream/engine/internal/metrics"
	"github.com/tailstream/engine/internal/storage/streams"
)

// Config holds storage configuration.
type Config struct {
	// DataDir is the root data directory; the stream keyspace lives in a
	// "streams" subdirectory.
	DataDir string

	// Streams tunes the stream manager.
	Streams streams.Options
}

// Store is the durable backend: one Pebble DB plus the stream manager.
type Store struct {
	db      *pebble.DB
	streams *streams.Manager
	log     zerolog.Logger
	ready   bool
	mu      sync.RWMutex
}

// Open opens (or creates) the database and wires the managers. A storage
// medium that cannot be opened is fatal: the caller must refuse to serve
// rather than degrade silently.
func Open(cfg Config, streamMetrics *metrics.StreamMetrics) (*Store, error) {
	dir := filepath.Join(cfg.DataDir, "streams")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", dir, err)
	}

	return &Store{
		db:      db,
		streams: streams.NewManager(db, cfg.Streams, streamMetrics),
		log:     logger.WithComponent("storage"),
	}, nil
}

// Streams returns the stream manager.
func (s *Store) Streams() *streams.Manager {
	return s.streams
}

// Start starts the managers.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.streams.Start(ctx); err != nil {
		return err
	}
	s.ready = true
	s.log.Info().Msg("Storage started")
	return nil
}

// Stop stops the managers and closes the database.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil
	}
	var lastErr error
	if err := s.streams.Stop(ctx); err != nil {
		lastErr = err
	}
	if err := s.db.Close(); err != nil {
		s.log.Error().Err(err).Msg("Failed to close database")
		lastErr = err
	}
	s.ready = false
	s.log.Info().Msg("Storage stopped")
	return lastErr
}

// Ready reports whether the store is serving.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready && s.streams.Ready()
}

// CheckHealth probes the database with a point read.
func (s *Store) CheckHealth(ctx context.Context) error {
	_, closer, err := s.db.Get([]byte("healthz"))
	if err == nil {
		return closer.Close()
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return err
}

package streams

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
)

// runReaper is the background TTL sweep. Expired streams are purged the
// same way an explicit delete would be, terminal signal included.
func (m *Manager) runReaper(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.opts.SweepInterval).Msg("TTL reaper started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("TTL reaper stopped due to context cancellation")
			return
		case <-stopCh:
			m.log.Info().Msg("TTL reaper stopped")
			return
		case <-ticker.C:
			m.sweepExpired(ctx)
		}
	}
}

// sweepExpired purges every stream whose TTL has elapsed.
func (m *Manager) sweepExpired(ctx context.Context) {
	expired := m.expiredNames()
	if len(expired) == 0 {
		return
	}

	purged := 0
	for _, name := range expired {
		st := m.state(name)
		st.mu.Lock()
		// Re-check under the writer lock; a concurrent delete may have
		// already removed the record.
		rec, status, err := m.loadRecord(name)
		if err == nil && status == statusOK && rec.Expired(time.Now()) {
			if derr := m.deleteLocked(ctx, name); derr != nil {
				m.log.Warn().Err(derr).Str("stream", name).Msg("Failed to purge expired stream")
			} else {
				purged++
				m.metrics.RecordExpired(name)
			}
		}
		st.mu.Unlock()
	}

	m.log.Debug().
		Int("purged", purged).
		Int("total_expired", len(expired)).
		Msg("TTL sweep completed")
}

func (m *Manager) expiredNames() []string {
	low, high := metaBounds()
	iter, err := m.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		m.log.Warn().Err(err).Msg("TTL sweep iterator failed")
		return nil
	}
	defer func() { _ = iter.Close() }()

	now := time.Now()
	var expired []string
	for ok := iter.First(); ok; ok = iter.Next() {
		rec, derr := decodeRecord(iter.Value())
		if derr != nil {
			continue
		}
		if rec.Expired(now) {
			expired = append(expired, nameFromMetaKey(iter.Key()))
		}
	}
	return expired
}

package tilestore

import (
	"context"
	"errors"
	"time"
)

// FlushDue flushes every tile whose buffer has been waiting at least the
// flush interval, and retries index writes that failed earlier. It returns
// the number of segments written. If a sweep is already running, FlushDue
// returns immediately with zero.
func (s *Store) FlushDue(ctx context.Context) (int, error) {
	return s.sweep(ctx, triggerInterval, false)
}

// FlushAll flushes every non-empty buffer regardless of age.
func (s *Store) FlushAll(ctx context.Context) (int, error) {
	return s.sweep(ctx, triggerManual, true)
}

func (s *Store) sweep(ctx context.Context, trigger string, all bool) (int, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.sweeping.Store(false)

	now := s.clock.Now()
	var (
		flushed int
		errs    []error
	)
	for _, t := range s.snapshotTiles() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		t.mu.Lock()
		due := len(t.buf) > 0 && (all || now.Sub(t.lastFlush) >= s.flushInterval)
		t.mu.Unlock()

		if due {
			ok, err := s.flush(ctx, t, trigger)
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				flushed++
			}
			continue
		}

		t.flushMu.Lock()
		t.ixMu.RLock()
		dirty, ix := t.dirty, t.ix
		t.ixMu.RUnlock()
		if dirty {
			s.storeIndex(ctx, t, ix)
		}
		t.flushMu.Unlock()
	}
	return flushed, errors.Join(errs...)
}

// Run calls FlushDue every checkEvery until ctx is done, then flushes
// everything still buffered. Flush errors are logged; the failed batches
// stay buffered for the next tick.
func (s *Store) Run(ctx context.Context, checkEvery time.Duration) error {
	if checkEvery <= 0 {
		checkEvery = time.Second
	}
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n, err := s.FlushAll(context.WithoutCancel(ctx))
			if err != nil {
				s.logger.Error("final flush failed", "error", err)
			} else {
				s.logger.Info("final flush", "segments", n)
			}
			return nil
		case <-ticker.C:
			if _, err := s.FlushDue(ctx); err != nil {
				s.logger.Warn("periodic flush failed", "error", err)
			}
		}
	}
}

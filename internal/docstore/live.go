package docstore

import (
	"context"
	"sync"

	"github.com/starford/daylens/internal/checksum"
	"github.com/starford/daylens/internal/metrics"
)

// listener is one live query. A dedicated goroutine re-runs the query
// whenever the collection is marked dirty, so deliveries to a listener are
// serialized and arrive in the order they were produced.
type listener struct {
	q       Query
	onNext  func(Snapshot)
	onError func(error)

	dirty   chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	cbMu    sync.Mutex
	lastSum string
}

// OnSnapshot starts a live query. onNext receives the current snapshot and
// then a new full snapshot after every change to the collection; snapshots
// equal to the previous delivery are skipped. onError receives query
// failures; the listener keeps running.
//
// The returned function stops the query. It is idempotent and, once it
// returns, no callback is running or will start. It must not be called
// from inside onNext or onError.
func (s *Store) OnSnapshot(q Query, onNext func(Snapshot), onError func(error)) func() {
	l := &listener{
		q:       q,
		onNext:  onNext,
		onError: onError,
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	l.dirty <- struct{}{}

	s.mu.Lock()
	s.seq++
	id := s.seq
	s.listeners[id] = l
	s.mu.Unlock()
	metrics.LiveQueries.Inc()

	go s.runListener(l)

	return func() {
		l.once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
			close(l.done)
			metrics.LiveQueries.Dec()
		})
		// Wait out a callback that may be in flight.
		l.cbMu.Lock()
		l.cbMu.Unlock() //nolint:staticcheck // barrier
	}
}

func (s *Store) runListener(l *listener) {
	defer close(l.stopped)
	for {
		select {
		case <-l.done:
			return
		case <-l.dirty:
		}

		snap, err := s.Query(context.Background(), l.q)

		l.cbMu.Lock()
		select {
		case <-l.done:
			l.cbMu.Unlock()
			return
		default:
		}
		if err != nil {
			if l.onError != nil {
				l.onError(err)
			}
			l.cbMu.Unlock()
			continue
		}
		sum := snapshotSum(snap)
		if sum != l.lastSum {
			l.lastSum = sum
			l.onNext(snap)
		}
		l.cbMu.Unlock()
	}
}

// notify marks every live query on collection dirty.
func (s *Store) notify(collection string) {
	s.recordLocalWrite()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l.q.Collection == collection {
			markDirty(l)
		}
	}
}

// notifyAll marks every live query dirty. Used when the database changed
// underneath us.
func (s *Store) notifyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		markDirty(l)
	}
}

func markDirty(l *listener) {
	select {
	case l.dirty <- struct{}{}:
	default:
		// Already pending; the next run sees the latest state.
	}
}

// ListenerCount returns the number of active live queries.
func (s *Store) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func snapshotSum(snap Snapshot) string {
	parts := make([][]byte, 0, 2*len(snap.Docs))
	for _, d := range snap.Docs {
		parts = append(parts, []byte(d.ID), d.Data)
	}
	return checksum.SumParts(parts...)
}

// Package memstore is an in-process authoritative store with the same
// conditional-write and expiry semantics as the database backends. It backs
// tests and the memory store mode of the CLI.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/surrealdb/surreallms/pkg/write"
)

// Store keeps records in a map guarded by one mutex, which stands in for the
// per-key linearizability of a real store.
type Store struct {
	mu    sync.Mutex
	rows  map[string]*write.State
	now   func() time.Time
	fault func(i int, in write.Intent) error
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFault installs a hook called before each statement of a batch is
// applied. A non-nil error aborts the batch as a store failure would.
func WithFault(fault func(i int, in write.Intent) error) Option {
	return func(s *Store) { s.fault = fault }
}

func New(opts ...Option) *Store {
	s := &Store{
		rows: make(map[string]*write.State),
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func id(k write.Key) string {
	return k.Table + "\x00" + k.DocID()
}

func (s *Store) Apply(ctx context.Context, intents []write.Intent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(intents) == 0 {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rid := id(intents[0].Key)
	// Live copies, so a failed batch leaves the stored state alone.
	staged := s.rows[rid].Live(now)
	for _, in := range intents {
		if !in.Predicate.Holds(staged != nil) {
			return false, nil
		}
	}

	for i, in := range intents {
		if s.fault != nil {
			if err := s.fault(i, in); err != nil {
				return false, err
			}
		}
		staged = staged.Apply(in, now)
	}

	if staged == nil {
		delete(s.rows, rid)
	} else {
		s.rows[rid] = staged
	}
	return true, nil
}

func (s *Store) Lookup(ctx context.Context, key write.Key) (write.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return write.Record{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.rows[id(key)].Live(s.now())
	if st == nil {
		return write.Record{}, false, nil
	}
	return st.Record(), true, nil
}

// Sweep drops expired cells, removes records with nothing live left and
// returns how many records were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, st := range s.rows {
		if live := st.Live(now); live != nil {
			s.rows[k] = live
			continue
		}
		delete(s.rows, k)
		n++
	}
	return n
}

func (s *Store) Close() error { return nil }

package state

import (
	"sync"

	"github.com/loykin/browserun/internal/metrics"
)

// Observer is called after every mutation with the state before and after it.
type Observer func(prev, next RunState)

// Store owns the RunState. Dispatches are serialized: a mutation and all of its
// observers complete before the next mutation is applied. Observers run on the
// dispatching goroutine and must not dispatch themselves.
type Store struct {
	dispatchMu sync.Mutex
	observers  []Observer

	mu    sync.RWMutex
	state RunState
}

func NewStore() *Store { return &Store{} }

// Observe appends an observer. Observers run in registration order.
func (s *Store) Observe(o Observer) {
	s.dispatchMu.Lock()
	s.observers = append(s.observers, o)
	s.dispatchMu.Unlock()
}

// State returns the current snapshot.
func (s *Store) State() RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the run has reached readiness.
func (s *Store) Ready() bool { return s.State().Ready }

// Dispatch applies m and notifies observers. It returns the previous and the
// resulting state.
func (s *Store) Dispatch(name string, m Mutation) (RunState, RunState) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	prev := s.state
	next := derive(m(prev))
	s.state = next
	s.mu.Unlock()

	metrics.IncMutation(name)
	for _, o := range s.observers {
		o(prev, next)
	}
	return prev, next
}

func (s *Store) ConnectBrowser(meta Meta) {
	s.Dispatch("connectBrowser", ConnectBrowser(meta))
}

func (s *Store) DisconnectBrowser(meta Meta) {
	s.Dispatch("disconnectBrowser", DisconnectBrowser(meta))
}

func (s *Store) StartTests(meta Meta, info RunInfo) {
	s.Dispatch("startTests", StartTests(meta, info))
}

func (s *Store) UpdateTests(meta Meta, t Test) {
	s.Dispatch("updateTests", UpdateTests(meta, t))
}

func (s *Store) EndTests(meta Meta, res Results) {
	s.Dispatch("endTests", EndTests(meta, res))
}

func (s *Store) ExpectLaunch(l Launch) {
	s.Dispatch("expectLaunch", ExpectLaunch(l))
}

func (s *Store) UpdateLaunched(meta Meta, launchID string) {
	s.Dispatch("updateLaunched", UpdateLaunched(meta, launchID))
}

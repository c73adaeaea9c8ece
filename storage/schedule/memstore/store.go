// Package memstore is an in-memory schedule for development and tests.
package memstore

import (
	"context"
	"sync"

	"github.com/hilcoe/rms/core/calendar"
)

type Store struct {
	mu     sync.RWMutex
	events map[string]calendar.Event
}

var _ calendar.Store = (*Store)(nil) // interface compliance check

func New(events ...calendar.Event) *Store {
	s := &Store{events: make(map[string]calendar.Event, len(events))}
	for _, e := range events {
		s.Put(e)
	}
	return s
}

// Put adds or replaces an event.
func (s *Store) Put(e calendar.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.StartAt, e.EndAt = e.StartAt.UTC(), e.EndAt.UTC()
	s.events[e.ID] = e
}

func (s *Store) Events(_ context.Context, w calendar.Window) ([]calendar.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]calendar.Event, 0, len(s.events))
	for _, e := range s.events {
		if w.Contains(e) {
			events = append(events, e)
		}
	}
	return events, nil
}

func (s *Store) Event(_ context.Context, id string) (calendar.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.events[id]; ok {
		return e, nil
	}
	return calendar.Event{}, calendar.ErrNotFound
}

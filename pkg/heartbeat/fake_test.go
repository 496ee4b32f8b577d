package heartbeat

import (
	"sync"
	"time"
)

type fakeSpark struct {
	id string

	mu     sync.Mutex
	writes []string
	ends   []bool
}

func newFakeSpark(id string) *fakeSpark { return &fakeSpark{id: id} }

func (s *fakeSpark) ID() string { return s.id }

func (s *fakeSpark) Write(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, payload)
	return nil
}

func (s *fakeSpark) End(reconnect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = append(s.ends, reconnect)
	return nil
}

func (s *fakeSpark) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *fakeSpark) Ends() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.ends...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/matchday-crawler/internal/progress"
)

// Stream relays events to live subscribers (the SSE endpoint). A slow
// subscriber misses events rather than stalling the hub.
type Stream struct {
	mu     sync.Mutex
	subs   map[int]chan progress.Event
	nextID int
	buffer int
	closed bool
}

// NewStream creates a broadcast sink; buffer is each subscriber's channel size.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{subs: make(map[int]chan progress.Event), buffer: buffer}
}

// Subscribe returns a channel of events and a function that unsubscribes and
// closes it. The channel is also closed when the stream closes.
func (s *Stream) Subscribe() (<-chan progress.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan progress.Event, s.buffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Consume fans the batch out without blocking.
func (s *Stream) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		for _, ch := range s.subs {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (s *Stream) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	return nil
}

package port

import "sync"

// ProducerSet tracks the writers of one channel as announced by their open
// and close markers. Broker readers keep one set each, fed from the whole
// control stream rather than their consumer group, so every replica of an
// input learns when the channel is finished.
type ProducerSet struct {
	mu       sync.Mutex
	expected int
	closed   map[string]bool
	drained  bool
}

// NewProducerSet waits for expected writers to close.
func NewProducerSet(expected int) *ProducerSet {
	return &ProducerSet{expected: expected, closed: make(map[string]bool)}
}

// Observe records an open (closed=false) or close marker of producer. A
// reopened producer, such as a restarted writer, un-finishes the channel.
func (s *ProducerSet) Observe(producer string, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[producer] = closed
	if !closed {
		s.drained = false
	}
}

// Finished reports whether the expected number of writers have closed.
func (s *ProducerSet) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedLocked()
}

func (s *ProducerSet) finishedLocked() bool {
	n := 0
	for _, closed := range s.closed {
		if closed {
			n++
		}
	}
	return n >= s.expected
}

// MarkDrained records whether the consumer group has consumed everything
// the channel holds. It only sticks once every writer has closed.
func (s *ProducerSet) MarkDrained(drained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained = drained && s.finishedLocked()
}

// Done reports whether every writer closed and the group drained the
// channel afterwards.
func (s *ProducerSet) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained && s.finishedLocked()
}

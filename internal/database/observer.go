package database

import (
	"media-index/internal/metrics"
)

// ChangeKind classifies a store mutation.
type ChangeKind string

const (
	// ChangeMedia fires on upserts, deletes, and soft-delete sweeps.
	ChangeMedia ChangeKind = "media"
	// ChangeTags fires on any tag-set mutation.
	ChangeTags ChangeKind = "tags"
)

// ChangeEvent is one mutation notification. MediaID is set when the
// change concerns a single known row, 0 for bulk changes.
type ChangeEvent struct {
	Kind    ChangeKind `json:"kind"`
	MediaID int64      `json:"mediaId,omitempty"`
}

// Subscribe registers a change listener and returns its event channel
// plus a cancel function. Events are invalidation signals, not a
// durable log: when the subscriber's buffer is full the event is
// dropped (and counted) rather than blocking the mutating caller —
// consumers are expected to re-query on receipt, so a dropped event
// is subsumed by the next one handled.
func (s *Store) Subscribe(buffer int) (<-chan ChangeEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan ChangeEvent, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Store) notify(ev ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			metrics.DBEventsDropped.Inc()
		}
	}
}

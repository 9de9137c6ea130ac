// Package history implements the gossip engine's append-only message store.
package history

import (
	"sort"
	"sync"

	"github.com/rechain/chatnode/pkg/message"
)

// Store is a mapping from message id to the Message stored under it.
// Insertion is idempotent and the store is never pruned for the lifetime of
// the process. Safe for concurrent reads from the introspection API.
type Store struct {
	mu   sync.RWMutex
	byID map[string]message.Message
}

// New returns an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]message.Message)}
}

// Has reports whether id is already present.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// Insert records m under its MessageId. Re-inserting an already-present id
// is a no-op; the original message wins.
func (s *Store) Insert(m message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.MessageId]; ok {
		return
	}
	s.byID[m.MessageId] = m
}

// Enumerate returns every stored message, in unspecified order.
func (s *Store) Enumerate() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.Message, 0, len(s.byID))
	for _, m := range s.byID {
		out = append(out, m)
	}
	return out
}

// MissingFor returns every stored message m for which m.SequenceNumber is
// greater than the remote clock's high-watermark for m.Origin. Results are
// sorted by (Origin, SequenceNumber) for reproducible tests.
func (s *Store) MissingFor(remoteClock map[string]int) []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]message.Message, 0)
	for _, m := range s.byID {
		if m.SequenceNumber > remoteClock[m.Origin] {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Origin != out[j].Origin {
			return out[i].Origin < out[j].Origin
		}
		return out[i].SequenceNumber < out[j].SequenceNumber
	})
	return out
}

// Len reports the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

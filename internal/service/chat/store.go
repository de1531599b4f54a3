package chat

import (
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/zhouzirui/roomchat/internal/model/chat"
)

var ErrMissingID = errors.New("message id is required")

// Store keeps the deduplicated message set of the active room. Iteration is
// always timestamp-ascending; equal timestamps keep first-insertion order.
type Store struct {
	mu       sync.RWMutex
	entities map[string]chat.Message
	ids      []string

	listenerMu sync.Mutex
	listeners  map[int]func()
	nextID     int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		entities:  make(map[string]chat.Message),
		ids:       make([]string, 0, 16),
		listeners: make(map[int]func()),
	}
}

// AddOne inserts message, replacing any entry with the same id.
func (s *Store) AddOne(message chat.Message) error {
	if message.ID == "" {
		return ErrMissingID
	}

	s.mu.Lock()
	if _, ok := s.entities[message.ID]; !ok {
		s.ids = append(s.ids, message.ID)
	}
	s.entities[message.ID] = message
	s.mu.Unlock()

	s.notify()
	return nil
}

// AllSorted yields a snapshot of the store ordered by timestamp. Each range
// over the returned sequence takes a fresh snapshot.
func (s *Store) AllSorted() iter.Seq[chat.Message] {
	return func(yield func(chat.Message) bool) {
		for _, message := range s.snapshot() {
			if !yield(message) {
				return
			}
		}
	}
}

// Clear drops every message.
func (s *Store) Clear() {
	s.mu.Lock()
	empty := len(s.ids) == 0
	clear(s.entities)
	s.ids = s.ids[:0]
	s.mu.Unlock()

	if !empty {
		s.notify()
	}
}

// Len reports the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// OnChange registers fn to run after every mutation. Listeners run without
// the store lock held. The returned func removes the listener.
func (s *Store) OnChange(fn func()) (cancel func()) {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) snapshot() []chat.Message {
	s.mu.RLock()
	messages := make([]chat.Message, 0, len(s.ids))
	for _, id := range s.ids {
		messages = append(messages, s.entities[id])
	}
	s.mu.RUnlock()

	slices.SortStableFunc(messages, func(a, b chat.Message) int {
		return strings.Compare(a.Timestamp, b.Timestamp)
	})
	return messages
}

func (s *Store) notify() {
	s.listenerMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

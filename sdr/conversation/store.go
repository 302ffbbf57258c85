package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/rs/zerolog"
)

// DefaultTTL is the idle lifetime of a conversation.
const DefaultTTL = 60 * time.Minute

// Store is a volatile conversation cache with idle expiry and per-id
// mutual exclusion. Expiry is passive; SweepExpired may run in the background.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	lmu   sync.Mutex
	locks map[string]*idLock

	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

type entry struct {
	conv      *Conversation
	expiresAt time.Time
}

type idLock struct {
	ch   chan struct{}
	refs int
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store; a non-positive ttl falls back to DefaultTTL.
func NewStore(ttl time.Duration, logger zerolog.Logger, opts ...StoreOption) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		entries: make(map[string]*entry),
		locks:   make(map[string]*idLock),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock acquires the mutator lock for id. Locks on distinct ids never contend.
func (s *Store) Lock(ctx context.Context, id string) (unlock func(), err error) {
	s.lmu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.lmu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.releaseRef(id, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.releaseRef(id, l)
		})
	}, nil
}

func (s *Store) releaseRef(id string, l *idLock) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

// GetOrCreate returns the live conversation for id, creating it when absent
// or expired. An empty id gets a generated one.
func (s *Store) GetOrCreate(ctx context.Context, id string) *Conversation {
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[id]; ok {
		if now.Before(e.expiresAt) {
			return e.conv
		}
		delete(s.entries, id)
		s.logger.Debug().Str("conversation_id", id).Msg("conversation expired")
	}

	conv := NewConversation(id, now)
	s.entries[id] = &entry{conv: conv, expiresAt: now.Add(s.ttl)}
	return conv
}

// Save refreshes the TTL of conv and stamps UpdatedAt. Every mutation path
// ends here.
func (s *Store) Save(ctx context.Context, conv *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv.UpdatedAt = now
	s.entries[conv.ID] = &entry{conv: conv, expiresAt: now.Add(s.ttl)}
}

// AppendTurn appends a turn and saves.
func (s *Store) AppendTurn(ctx context.Context, conv *Conversation, role Role, text string) Turn {
	turn := Turn{Role: role, Content: text, CreatedAt: s.now()}
	conv.Turns = append(conv.Turns, turn)
	s.Save(ctx, conv)
	return turn
}

// SetSlot sets a slot and saves.
func (s *Store) SetSlot(ctx context.Context, conv *Conversation, key, value string) {
	if conv.Slots == nil {
		conv.Slots = map[string]string{}
	}
	conv.Slots[key] = value
	s.Save(ctx, conv)
}

// Get returns a deep copy of a live conversation. It waits for any in-flight
// turn on the same id so the copy is consistent.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, bool) {
	unlock, err := s.Lock(ctx, id)
	if err != nil {
		return nil, false
	}
	defer unlock()

	s.mu.Lock()
	e, ok := s.entries[id]
	if ok && !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	return clone.Clone(e.conv).(*Conversation), true
}

// Len returns the number of cached conversations, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SweepExpired evicts every conversation idle past the TTL.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

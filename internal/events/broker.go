package events

import (
	"sync"
	"time"
)

// Event types
const (
	TypeAccountLinked       = "account_linked"
	TypeAccountUnlinked     = "account_unlinked"
	TypeSyncCompleted       = "sync_completed"
	TypeAchievementUnlocked = "achievement_unlocked"
)

// Event is a notification about one user's data
type Event struct {
	EventID   int64          `json:"eventId"`
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Publisher accepts events
type Publisher interface {
	Publish(e Event)
}

// DefaultHistory is the number of recent events kept for cursor reads
const DefaultHistory = 1024

// Broker fans events out to per-user subscribers and keeps a bounded
// history so pollers can resume from a cursor.
// Subscriptions are scoped: the caller must invoke the returned cancel func.
type Broker struct {
	mu         sync.Mutex
	nextID     int64
	nextSub    int
	subs       map[int]*subscription
	history    []Event
	maxHistory int
}

type subscription struct {
	userID string
	ch     chan Event
}

// NewBroker creates an empty broker keeping DefaultHistory events
func NewBroker() *Broker {
	return NewBrokerWithHistory(DefaultHistory)
}

// NewBrokerWithHistory creates an empty broker keeping at most size events
func NewBrokerWithHistory(size int) *Broker {
	if size < 0 {
		size = 0
	}
	return &Broker{subs: make(map[int]*subscription), maxHistory: size}
}

// Publish assigns an id and delivers e to every subscriber for e.UserID.
// Slow subscribers whose buffer is full miss the event.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	e.EventID = b.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if b.maxHistory > 0 {
		if len(b.history) == b.maxHistory {
			copy(b.history, b.history[1:])
			b.history = b.history[:len(b.history)-1]
		}
		b.history = append(b.history, e)
	}

	for _, s := range b.subs {
		if s.userID != e.UserID {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of userID's events and a cancel func that
// removes the subscription and closes the channel
func (b *Broker) Subscribe(userID string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	s := &subscription{userID: userID, ch: make(chan Event, buffer)}
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Since returns up to limit of userID's retained events with an id above
// cursor, oldest first
func (b *Broker) Since(userID string, cursor int64, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := []Event{}
	for _, e := range b.history {
		if e.EventID <= cursor || e.UserID != userID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// LatestID returns the id of the most recently published event
func (b *Broker) LatestID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

// Subscribers returns the number of live subscriptions
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Discard is a Publisher that drops everything
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

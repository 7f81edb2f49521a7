// Package notify carries change events from the sync core to whoever
// renders them. Delivery is best effort: a slow subscriber drops events
// instead of stalling a reconcile transaction.
package notify

import "sync"

type Entity string

const (
	EntityClip   Entity = "clip"
	EntityFile   Entity = "file"
	EntityFilter Entity = "filter"
)

type State string

const (
	StateSaved    State = "saved"
	StateDeleted  State = "deleted"
	StateRestored State = "restored"
	StateProgress State = "progress"
)

type Change struct {
	Entity  Entity
	ID      int64
	State   State
	Percent int
}

type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Change)}
}

// Publish never blocks. Subscribers that are behind miss the event.
func (b *Bus) Publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribe registers a listener. The returned cancel function releases
// it; the channel closes afterwards. Cancel is idempotent.
func (b *Bus) Subscribe() (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Change, 16)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

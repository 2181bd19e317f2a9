package events

import (
	"context"
	"sync"
	"time"

	"genaiportal.org/internal/auth"
)

// Event kinds. Each one tells subscribers which list or count to refetch.
const (
	KindProjectCreated = "project.created"
	KindProjectDecided = "project.decided"
	KindDraftSaved     = "draft.saved"
	KindDraftDeleted   = "draft.deleted"
	KindDraftPromoted  = "draft.promoted"
)

// Event is an invalidation signal emitted after a successful mutation. It carries
// identifiers only; subscribers refetch the affected resources.
type Event struct {
	Kind      string    `json:"kind"`
	ProjectID string    `json:"projectId,omitempty"`
	DraftID   string    `json:"draftId,omitempty"`
	OwnerID   string    `json:"ownerId"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

// Draft reports whether the event concerns a draft only.
func (e Event) Draft() bool {
	return e.Kind == KindDraftSaved || e.Kind == KindDraftDeleted
}

// VisibleTo reports whether s may observe the event. Owners see their own events,
// reviewers additionally see project events for everyone, and drafts stay private.
func (e Event) VisibleTo(s auth.Session) bool {
	if !s.Authenticated() {
		return false
	}
	if e.OwnerID == s.UserID {
		return true
	}
	if e.Draft() {
		return false
	}
	return s.Can(auth.CapViewAllProjects)
}

// Broadcaster fans events out to all active subscribers (SSE/WebSocket clients).
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
	buf  int
}

// New returns an empty broadcaster. Each subscriber buffers up to buffer events;
// values below one fall back to 16.
func New(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 16
	}
	return &Broadcaster{subs: make(map[int]chan Event), buf: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, b.buf)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out to all subscribers.
func (b *Broadcaster) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

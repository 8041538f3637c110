package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/message"
	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

// PendingAck is one sent message awaiting server acknowledgement.
type PendingAck struct {
	Message    message.Message
	EnqueuedAt time.Time
	seq        uint64
}

// AckTracker stores ack-requested messages by id until the server confirms
// them. Tracking the same id again replaces the message but keeps its place
// in replay order.
type AckTracker struct {
	mu    sync.Mutex
	items map[uuid.UUID]PendingAck
	seq   uint64
	now   func() time.Time
}

func NewAckTracker() *AckTracker {
	return &AckTracker{
		items: make(map[uuid.UUID]PendingAck),
		now:   time.Now,
	}
}

// Track records m. Messages that did not request an ack are ignored.
func (a *AckTracker) Track(m message.Message) bool {
	if m == nil || !m.IsAckRequested() {
		return false
	}
	id := message.EnsureID(m)
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.items[id]; ok {
		prev.Message = m
		a.items[id] = prev
		return true
	}
	a.seq++
	a.items[id] = PendingAck{Message: m, EnqueuedAt: a.now(), seq: a.seq}
	return true
}

// Acknowledge removes id. Unknown ids are logged and ignored.
func (a *AckTracker) Acknowledge(id uuid.UUID) bool {
	a.mu.Lock()
	_, ok := a.items[id]
	delete(a.items, id)
	a.mu.Unlock()
	if !ok {
		logs.Warnf("session.AckTracker ack for unknown message id=%s", id)
	}
	return ok
}

// Pending returns the tracked entries oldest first.
func (a *AckTracker) Pending() []PendingAck {
	a.mu.Lock()
	out := make([]PendingAck, 0, len(a.items))
	for _, item := range a.items {
		out = append(out, item)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// FlushInOrder hands every tracked message to send, oldest first, and stops
// at the first false. Entries stay tracked until acknowledged.
func (a *AckTracker) FlushInOrder(send func(message.Message) bool) int {
	sent := 0
	for _, item := range a.Pending() {
		if !send(item.Message) {
			break
		}
		sent++
	}
	return sent
}

// Clear drops every entry and returns how many were dropped.
func (a *AckTracker) Clear() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.items)
	a.items = make(map[uuid.UUID]PendingAck)
	return n
}

func (a *AckTracker) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

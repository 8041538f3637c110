package session

import (
	"fmt"
	"sync"

	"github.com/danmuck/chatlink/internal/message"
	"github.com/danmuck/chatlink/internal/observability"
	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

// SubscriptionID identifies one registered callback.
type SubscriptionID uuid.UUID

func (id SubscriptionID) String() string {
	return uuid.UUID(id).String()
}

type subscriber struct {
	id      SubscriptionID
	deliver func(message.Message)
}

// Dispatcher routes inbound messages to the callbacks registered for their
// kind. Subscriber lists are copy-on-write so Dispatch never holds the lock
// while callbacks run.
type Dispatcher struct {
	mu     sync.RWMutex
	byKind map[message.Kind][]subscriber
	all    []subscriber
	index  map[SubscriptionID]message.Kind
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		byKind: make(map[message.Kind][]subscriber),
		index:  make(map[SubscriptionID]message.Kind),
	}
}

// Subscriber is anything that owns a Dispatcher: the Dispatcher itself or a
// Controller.
type Subscriber interface {
	dispatcher() *Dispatcher
}

func (d *Dispatcher) dispatcher() *Dispatcher { return d }

// Subscribe registers fn for messages of T's kind. T must be a concrete
// message pointer type such as *message.Chat; use SubscribeAll to see every
// message.
func Subscribe[T message.Message](s Subscriber, fn func(T)) SubscriptionID {
	var zero T
	if any(zero) == nil {
		panic("session.Subscribe: type parameter must be a concrete message type, use SubscribeAll for every message")
	}
	kind := zero.Kind()
	return s.dispatcher().add(kind, func(m message.Message) {
		if typed, ok := m.(T); ok {
			fn(typed)
		}
	})
}

// SubscribeAll registers fn for every message, after kind subscribers.
func (d *Dispatcher) SubscribeAll(fn func(message.Message)) SubscriptionID {
	id := SubscriptionID(uuid.New())
	d.mu.Lock()
	defer d.mu.Unlock()
	next := make([]subscriber, len(d.all), len(d.all)+1)
	copy(next, d.all)
	d.all = append(next, subscriber{id: id, deliver: fn})
	d.index[id] = 0
	return id
}

func (d *Dispatcher) add(kind message.Kind, fn func(message.Message)) SubscriptionID {
	id := SubscriptionID(uuid.New())
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.byKind[kind]
	next := make([]subscriber, len(cur), len(cur)+1)
	copy(next, cur)
	d.byKind[kind] = append(next, subscriber{id: id, deliver: fn})
	d.index[id] = kind
	return id
}

// Unsubscribe removes a callback. Unknown ids are ignored.
func (d *Dispatcher) Unsubscribe(id SubscriptionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kind, ok := d.index[id]
	if !ok {
		return
	}
	delete(d.index, id)
	if kind == 0 {
		d.all = without(d.all, id)
		return
	}
	next := without(d.byKind[kind], id)
	if len(next) == 0 {
		delete(d.byKind, kind)
		return
	}
	d.byKind[kind] = next
}

func without(list []subscriber, id SubscriptionID) []subscriber {
	next := make([]subscriber, 0, len(list))
	for _, sub := range list {
		if sub.id != id {
			next = append(next, sub)
		}
	}
	return next
}

// Dispatch delivers m to every subscriber of its kind in registration order,
// then to SubscribeAll callbacks. A panicking callback is logged and the rest
// still run. It returns how many callbacks were invoked.
func (d *Dispatcher) Dispatch(m message.Message) int {
	if m == nil {
		return 0
	}
	kind := m.Kind()
	d.mu.RLock()
	subs := d.byKind[kind]
	all := d.all
	d.mu.RUnlock()

	if len(subs) == 0 && len(all) == 0 {
		logs.Debugf("session.Dispatcher no handler kind=%s", kind)
		return 0
	}
	for _, sub := range subs {
		deliverGuarded(kind, sub, m)
	}
	for _, sub := range all {
		deliverGuarded(kind, sub, m)
	}
	return len(subs) + len(all)
}

// Count reports how many callbacks are registered for kind.
func (d *Dispatcher) Count(kind message.Kind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byKind[kind])
}

func deliverGuarded(kind message.Kind, sub subscriber, m message.Message) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordDispatchPanic(kind.String())
			logs.Errorf(fmt.Errorf("%v", r), "session.Dispatcher subscriber panicked kind=%s id=%s", kind, sub.id)
		}
	}()
	sub.deliver(m)
}

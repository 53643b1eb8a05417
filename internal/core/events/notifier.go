package events

import (
	"sync"
	"time"

	"github.com/xuecangming/transfer-queue/internal/common/types"
	"github.com/xuecangming/transfer-queue/internal/core/logger"
)

// Handler receives published events. Handlers run on the publishing
// goroutine and must return quickly; use SubscribeChannel for slow consumers.
type Handler func(types.Event)

// Notifier is an observer registry for queue lifecycle events.
// Delivery order across subscribers is unspecified.
type Notifier struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	log      logger.Logger
}

// NewNotifier creates a new notifier
func NewNotifier(log logger.Logger) *Notifier {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Notifier{
		handlers: make(map[int]Handler),
		log:      log,
	}
}

// Subscribe registers h and returns an id for Unsubscribe
func (n *Notifier) Subscribe(h Handler) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.handlers[n.nextID] = h
	return n.nextID
}

// Unsubscribe removes a handler; unknown ids are ignored
func (n *Notifier) Unsubscribe(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, id)
}

// SubscribeChannel delivers events into a buffered channel. Events are
// dropped when the buffer is full. The returned cancel func unsubscribes and
// closes the channel.
func (n *Notifier) SubscribeChannel(buffer int) (<-chan types.Event, func()) {
	ch := make(chan types.Event, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	id := n.Subscribe(func(evt types.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- evt:
		default:
		}
	})
	cancel := func() {
		n.Unsubscribe(id)
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	return ch, cancel
}

// Count returns the number of subscribers
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.handlers)
}

// Publish delivers evt to every subscriber. A panicking handler is logged
// and does not prevent delivery to the others.
func (n *Notifier) Publish(evt types.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		n.deliver(h, evt)
	}
}

func (n *Notifier) deliver(h Handler, evt types.Event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("event handler panicked",
				logger.String("event", string(evt.Type)),
				logger.Any("panic", r),
			)
		}
	}()
	h(evt)
}

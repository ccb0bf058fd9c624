package eventbus

import (
	"sync"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

// queue is an unbounded FIFO of events. push never blocks; the drainer is
// woken through a single-slot signal channel.
type queue struct {
	mu     sync.Mutex
	items  []domain.Event
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		signal: make(chan struct{}, 1),
	}
}

func (q *queue) push(e domain.Event) int {
	q.mu.Lock()
	q.items = append(q.items, e)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return n
}

func (q *queue) pop() (domain.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return domain.Event{}, false
	}
	e := q.items[0]
	q.items[0] = domain.Event{}
	q.items = q.items[1:]
	return e, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) wait() <-chan struct{} {
	return q.signal
}

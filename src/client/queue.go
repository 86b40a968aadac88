package client

import "sync"

// dispatchQueue is the ordered queue between the client goroutines and the
// dispatcher. push never blocks, so lifecycle events can be queued from a
// handler running on the dispatcher. pushMessage waits while limit inbound
// messages are pending.
type dispatchQueue struct {
	mu    sync.Mutex
	items []dispatch
	limit int

	wake  chan struct{}
	space chan struct{}
}

func newDispatchQueue(limit int) *dispatchQueue {
	if limit < 1 {
		limit = 1
	}
	return &dispatchQueue{
		limit: limit,
		wake:  make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
}

func (q *dispatchQueue) push(d dispatch) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	signal(q.wake)
}

// pushMessage queues d once there is room. It gives up and reports false
// when either stop channel closes first.
func (q *dispatchQueue) pushMessage(d dispatch, stop, done <-chan struct{}) bool {
	for {
		q.mu.Lock()
		if len(q.items) < q.limit {
			q.items = append(q.items, d)
			q.mu.Unlock()
			signal(q.wake)
			return true
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-stop:
			return false
		case <-done:
			return false
		}
	}
}

// drain takes every pending item.
func (q *dispatchQueue) drain() []dispatch {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	if len(items) > 0 {
		signal(q.space)
	}
	return items
}

func (q *dispatchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

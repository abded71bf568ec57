package entrypoint

import (
	"container/list"
	"sync"

	"github.com/bobuhiro11/govmm/signal"
)

// deferredQueue holds application-level contexts whose signals arrived while
// the entrypoint waited for I/O. A context is queued at most once.
type deferredQueue struct {
	mu    sync.Mutex
	order *list.List
	elems map[signal.Capability]*list.Element
}

func newDeferredQueue() *deferredQueue {
	return &deferredQueue{
		order: list.New(),
		elems: make(map[signal.Capability]*list.Element),
	}
}

// insert moves c to the tail of the queue.
func (q *deferredQueue) insert(c signal.Capability) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(c)
	q.elems[c] = q.order.PushBack(c)
}

func (q *deferredQueue) remove(c signal.Capability) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(c)
}

func (q *deferredQueue) removeLocked(c signal.Capability) {
	if e, ok := q.elems[c]; ok {
		q.order.Remove(e)
		delete(q.elems, c)
	}
}

func (q *deferredQueue) popFirst() (signal.Capability, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.order.Front()
	if e == nil {
		return 0, false
	}

	c, _ := q.order.Remove(e).(signal.Capability)
	delete(q.elems, c)

	return c, true
}

func (q *deferredQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.order.Len() == 0
}

// clear drops every queued context.
func (q *deferredQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.order.Init()
	clear(q.elems)
}

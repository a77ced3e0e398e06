package manager

import (
	"sync"

	"github.com/1ureka/tunnelmesh/internal/peer"
)

// peerEventQueue bridges peer.Emitter calls (invoked from pion's internal
// callback goroutines, which must never block) to the manager's single
// event-loop goroutine. Same shape as signaling's eventQueue: a mutex-
// guarded slice plus a non-blocking notify channel, chosen over a sized
// buffered channel so a burst of ICE candidates can never be dropped or
// stall a callback.
type peerEventQueue struct {
	mu     sync.Mutex
	items  []peer.Event
	notify chan struct{}
}

func newPeerEventQueue() *peerEventQueue {
	return &peerEventQueue{notify: make(chan struct{}, 1)}
}

func (q *peerEventQueue) emitter() peer.Emitter {
	return func(e peer.Event) {
		q.mu.Lock()
		q.items = append(q.items, e)
		q.mu.Unlock()
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

func (q *peerEventQueue) ready() <-chan struct{} {
	return q.notify
}

func (q *peerEventQueue) drain() []peer.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

package multiplexer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/clusterglass/clusterglass/internal/watchevent"
)

// fanoutChanCapacity is the buffer depth of each subscriber's channel, chosen
// to absorb a burst of InitApply events without every consumer needing to
// keep pace with the producer.
const fanoutChanCapacity = 100

// fanout broadcasts watchevent.Events to a set of subscriber channels with a
// non-blocking send per subscriber: a full channel marks that subscriber
// lagged instead of blocking the Upstream Worker that's broadcasting.
type fanout struct {
	mu        sync.Mutex
	listeners map[uuid.UUID]chan watchevent.Event
	lagged    map[uuid.UUID]bool
}

func newFanout() *fanout {
	return &fanout{
		listeners: make(map[uuid.UUID]chan watchevent.Event),
		lagged:    make(map[uuid.UUID]bool),
	}
}

// subscribe registers a new fresh channel for id and returns it.
func (f *fanout) subscribe(id uuid.UUID) chan watchevent.Event {
	ch := make(chan watchevent.Event, fanoutChanCapacity)
	f.mu.Lock()
	f.listeners[id] = ch
	f.mu.Unlock()
	return ch
}

// unsubscribe removes id's channel. The channel is never closed, by this
// method or by the Bridge, so a broadcast already in flight cannot send on
// a closed channel; the Bridge simply stops reading it.
func (f *fanout) unsubscribe(id uuid.UUID) {
	f.mu.Lock()
	delete(f.listeners, id)
	delete(f.lagged, id)
	f.mu.Unlock()
}

// broadcast delivers ev to every subscriber. A subscriber whose channel is
// full is marked lagged and skipped rather than blocking the others.
func (f *fanout) broadcast(ev watchevent.Event) {
	f.mu.Lock()
	chans := make(map[uuid.UUID]chan watchevent.Event, len(f.listeners))
	for id, ch := range f.listeners {
		chans[id] = ch
	}
	f.mu.Unlock()

	for id, ch := range chans {
		select {
		case ch <- ev:
		default:
			f.mu.Lock()
			f.lagged[id] = true
			f.mu.Unlock()
		}
	}
}

// consumeLagged reports and clears whether id's subscriber dropped an event
// since the last call. The Bridge checks this after every receive.
func (f *fanout) consumeLagged(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	wasLagged := f.lagged[id]
	f.lagged[id] = false
	return wasLagged
}

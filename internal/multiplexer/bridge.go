package multiplexer

import (
	"context"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/clusterglass/clusterglass/internal/selector"
	"github.com/clusterglass/clusterglass/internal/watchevent"
)

// uiChanCapacity is the buffer depth of the channel handed to the caller
// (the UI side of a Bridge).
const uiChanCapacity = 100

// bridge is one subscriber's view onto an upstream: it owns the forwarding
// goroutine that copies events from the upstream's fan-out into the
// caller-facing Out channel, synthesizing a replay burst when it joins an
// upstream that was already running.
type bridge struct {
	id  uuid.UUID
	sel selector.Selector
	Out chan watchevent.Event

	up     *upstream
	fanIn  chan watchevent.Event
	cancel context.CancelFunc
}

// newBridge registers id with up's fan-out and starts the forwarding
// goroutine. isNew tells the Bridge whether up's watch loop has not yet
// started (true: no replay needed, the upstream's own Init/InitApply*/
// InitDone will arrive over fanIn) or was already running (false: the Bridge
// must synthesize the replay from up's cache before forwarding live events).
//
// The Registry must call this while still holding the lock that guards
// upstream creation/teardown, so the subscription is registered before the
// upstream's goroutine can race ahead of it (invariant R4).
func newBridge(id uuid.UUID, up *upstream, isNew bool) *bridge {
	fanIn := up.fan.subscribe(id)
	ctx, cancel := context.WithCancel(context.Background())
	b := &bridge{
		id:     id,
		sel:    up.sel,
		Out:    make(chan watchevent.Event, uiChanCapacity),
		up:     up,
		fanIn:  fanIn,
		cancel: cancel,
	}
	// Take the replay snapshot right after subscribing, before the goroutine
	// starts, so fan-out traffic already queued on fanIn is never also
	// reflected in the snapshot.
	var objs []*unstructured.Unstructured
	initDone := true
	if !isNew {
		objs, initDone = up.snapshot()
	}
	go b.forward(ctx, isNew, objs, initDone)
	return b
}

// stop cancels the forwarding goroutine and unsubscribes from the upstream's
// fan-out. It does not touch the upstream's refcount; the Registry owns that.
func (b *bridge) stop() {
	b.cancel()
	b.up.fan.unsubscribe(b.id)
}

func (b *bridge) forward(ctx context.Context, isNew bool, objs []*unstructured.Unstructured, initDone bool) {
	defer close(b.Out)

	if !isNew {
		if !initDone {
			// The upstream is still mid initial-list: §5 is explicit that a
			// joining subscriber is not forced to observe the in-flight
			// InitApply tail, and P4 requires exactly one InitDone before
			// any further events. Discard fan-out traffic until the
			// upstream's own InitDone arrives, then take a fresh, now-
			// complete snapshot instead of replaying a partial one followed
			// by the upstream's still-buffered tail and a second InitDone.
			if !b.waitForUpstreamInitDone(ctx) {
				return
			}
			objs, _ = b.up.snapshot()
		}

		if !b.emit(ctx, watchevent.Init()) {
			return
		}
		for _, obj := range objs {
			if b.sel.SingleObject() {
				if !b.emit(ctx, watchevent.Apply(obj)) {
					return
				}
				continue
			}
			if !b.emit(ctx, watchevent.InitApply(obj)) {
				return
			}
		}
		if !b.sel.SingleObject() {
			if !b.emit(ctx, watchevent.InitDone()) {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.fanIn:
			if !ok {
				return
			}
			if !b.emit(ctx, ev) {
				return
			}
			if b.up.fan.consumeLagged(b.id) {
				if !b.emit(ctx, watchevent.Init()) {
					return
				}
				// Lag is a documented, intentional gap (spec §4.3/§9): the
				// UI is told to discard its state, not given a full replay.
			}
		}
	}
}

// waitForUpstreamInitDone discards fan-out traffic until the upstream's own
// InitDone arrives, letting a late-joining Bridge synthesize one consistent
// bracket from a single snapshot instead of interleaving it with the
// upstream's still-in-flight initial list (or a reconnect's fresh one).
func (b *bridge) waitForUpstreamInitDone(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-b.fanIn:
			if !ok {
				return false
			}
			if ev.Kind == watchevent.KindInitDone {
				return true
			}
		}
	}
}

// emit sends ev on Out, returning false if ctx was cancelled first.
func (b *bridge) emit(ctx context.Context, ev watchevent.Event) bool {
	select {
	case b.Out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

package multiplexer

import (
	"context"
	"log"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/clusterglass/clusterglass/internal/selector"
	"github.com/clusterglass/clusterglass/internal/watchevent"
)

// watchSource is the subset of *gateway.Gateway an Upstream Worker needs.
// Narrowed to an interface so tests can drive the watch loop with
// watch.NewFake() instead of standing up a real cluster connection.
type watchSource interface {
	Watch(ctx context.Context, sel selector.Selector) (watch.Interface, error)
	WatchSingle(ctx context.Context, sel selector.Selector) (watch.Interface, error)
}

// initialEventsEndAnnotation marks the Bookmark event that closes a
// streaming list's initial burst. See SendInitialEvents in the Kubernetes
// watch API.
const initialEventsEndAnnotation = "k8s.io/initial-events-end"

// backoff mirrors the retry policy the teacher's cache layer uses when an
// upstream watch fails: start small, double, cap at 30s, with jitter so many
// upstreams don't all retry in lockstep after a shared outage.
var backoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.2,
	Steps:    100,
	Cap:      30 * time.Second,
}

// upstream is one live watch against the cluster for a single Selector,
// shared by every Bridge attached to it. There is exactly one upstream per
// distinct Selector with at least one subscriber (invariant R1/R2).
type upstream struct {
	sel selector.Selector
	fan *fanout

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	cache    map[types.UID]*unstructured.Unstructured
	initDone bool
}

// newUpstream builds an upstream handle without starting its watch loop. The
// caller (Registry) subscribes the first Bridge to u.fan before calling
// start, so that Bridge can never miss the upstream's opening Init broadcast.
func newUpstream(sel selector.Selector) *upstream {
	return &upstream{
		sel:   sel,
		fan:   newFanout(),
		cache: make(map[types.UID]*unstructured.Unstructured),
	}
}

// start launches the watch loop goroutine against gw. Must be called at most
// once per upstream.
func (u *upstream) start(gw watchSource) {
	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.done = make(chan struct{})
	go u.run(ctx, gw)
}

// stop cancels the watch loop unconditionally. Per spec, abortion never
// waits for an in-flight read to drain.
func (u *upstream) stop() {
	u.cancel()
}

func (u *upstream) run(ctx context.Context, gw watchSource) {
	defer close(u.done)

	b := backoff // local copy; wait.Backoff.Step mutates its receiver
	for {
		if ctx.Err() != nil {
			return
		}

		var w watch.Interface
		var err error
		if u.sel.SingleObject() {
			w, err = gw.WatchSingle(ctx, u.sel)
		} else {
			w, err = gw.Watch(ctx, u.sel)
		}
		if err != nil {
			u.fan.broadcast(watchevent.Error(err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.Step()):
			}
			continue
		}
		b = backoff

		clean := u.consume(ctx, w)
		w.Stop()
		if ctx.Err() != nil {
			return
		}
		if !clean {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.Step()):
			}
		}
	}
}

// consume drains one watch.Interface's ResultChan, updating the cache and
// broadcasting events, until the channel closes or ctx is cancelled. Returns
// true if the loop should reconnect immediately without backing off (the
// stream ended on an explicit Error event, or ctx was cancelled), false if it
// hit a close with no Error event and should back off first.
func (u *upstream) consume(ctx context.Context, w watch.Interface) bool {
	u.mu.Lock()
	u.cache = make(map[types.UID]*unstructured.Unstructured)
	u.initDone = u.sel.SingleObject() // single-object watches have no init bracket
	u.mu.Unlock()

	if !u.sel.SingleObject() {
		u.fan.broadcast(watchevent.Init())
	}

	sawTerminalError := false
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-w.ResultChan():
			if !ok {
				if sawTerminalError {
					return true
				}
				u.fan.broadcast(watchevent.Error("stream ended"))
				return false
			}
			u.handle(ev, &sawTerminalError)
			if sawTerminalError {
				return true
			}
		}
	}
}

func (u *upstream) handle(ev watch.Event, sawTerminalError *bool) {
	switch ev.Type {
	case watch.Added, watch.Modified:
		obj, ok := ev.Object.(*unstructured.Unstructured)
		if !ok {
			return
		}
		u.mu.Lock()
		initDone := u.initDone
		u.cache[obj.GetUID()] = obj
		u.mu.Unlock()

		if u.sel.SingleObject() {
			u.fan.broadcast(watchevent.Apply(obj))
			return
		}
		if !initDone {
			u.fan.broadcast(watchevent.InitApply(obj))
		} else {
			u.fan.broadcast(watchevent.Apply(obj))
		}

	case watch.Bookmark:
		obj, ok := ev.Object.(*unstructured.Unstructured)
		if !ok {
			return
		}
		if _, marked := obj.GetAnnotations()[initialEventsEndAnnotation]; !marked {
			return
		}
		if u.sel.SingleObject() {
			// The initial burst ended without the object: it is absent.
			u.mu.RLock()
			absent := len(u.cache) == 0
			u.mu.RUnlock()
			if absent {
				u.fan.broadcast(watchevent.SingleGone())
			}
			return
		}
		u.mu.Lock()
		u.initDone = true
		u.mu.Unlock()
		u.fan.broadcast(watchevent.InitDone())

	case watch.Deleted:
		obj, ok := ev.Object.(*unstructured.Unstructured)
		if !ok {
			return
		}
		u.mu.Lock()
		if u.sel.SingleObject() {
			u.cache = make(map[types.UID]*unstructured.Unstructured)
		} else {
			delete(u.cache, obj.GetUID())
		}
		u.mu.Unlock()

		if u.sel.SingleObject() {
			u.fan.broadcast(watchevent.SingleGone())
		} else {
			u.fan.broadcast(watchevent.Delete(obj))
		}

	case watch.Error:
		*sawTerminalError = true
		msg := "watch error"
		if status, ok := ev.Object.(*metav1.Status); ok {
			msg = status.Message
		}
		u.fan.broadcast(watchevent.Error(msg))

	default:
		log.Printf("multiplexer: upstream %s: ignoring unknown watch event type %q", u.sel.Key(), ev.Type)
	}
}

// cacheSize reports the number of objects currently cached, for Debug.
func (u *upstream) cacheSize() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.cache)
}

// snapshot returns the cache's current contents and whether the initial list
// has completed, used by a Bridge attaching to an already-running upstream.
func (u *upstream) snapshot() (objs []*unstructured.Unstructured, initDone bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	objs = make([]*unstructured.Unstructured, 0, len(u.cache))
	for _, obj := range u.cache {
		objs = append(objs, obj)
	}
	return objs, u.initDone
}

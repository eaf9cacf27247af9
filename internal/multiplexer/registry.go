// Package multiplexer implements the Watch Multiplexer: one upstream watch
// per distinct Selector, fanned out to many subscriber Bridges.
package multiplexer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/clusterglass/clusterglass/internal/discovery"
	"github.com/clusterglass/clusterglass/internal/gateway"
	"github.com/clusterglass/clusterglass/internal/selector"
	"github.com/clusterglass/clusterglass/internal/watchevent"
	"github.com/clusterglass/clusterglass/internal/xerrors"
)

// entry pairs a live upstream with the count of Bridges currently attached to
// it (invariant R1/R2: the Selector is present in selectors iff refcount≥1).
type entry struct {
	up       *upstream
	refcount int
}

// Registry is the Watch Multiplexer's single point of coordination: it owns
// every live Upstream and Bridge, and is the only component allowed to create
// or tear either down. A single mutex spans both the refcount decision and a
// Bridge's attach to its Upstream's fan-out (invariant R4): no Bridge is ever
// handed a reference to an Upstream that is concurrently being aborted.
type Registry struct {
	mu        sync.Mutex
	gw        *gateway.Gateway
	disco     *discovery.Facade
	selectors map[selector.Selector]*entry
	bridges   map[uuid.UUID]*bridgeRecord
}

// bridgeRecord is what the Registry remembers about a subscription: enough
// to tear it down and to answer Debug queries.
type bridgeRecord struct {
	b   *bridge
	sel selector.Selector
}

// New builds a Registry bound to an initial Gateway/Facade pair.
func New(gw *gateway.Gateway, disco *discovery.Facade) *Registry {
	return &Registry{
		gw:        gw,
		disco:     disco,
		selectors: make(map[selector.Selector]*entry),
		bridges:   make(map[uuid.UUID]*bridgeRecord),
	}
}

// StartListen attaches a new subscriber to sel's Upstream, creating the
// Upstream first if this is the first subscriber for sel (spec's five-step
// start-listen protocol). Returns the subscription id and the channel the
// caller should read events from.
func (r *Registry) StartListen(sel selector.Selector) (uuid.UUID, <-chan watchevent.Event, error) {
	if err := sel.Validate(); err != nil {
		return uuid.UUID{}, nil, xerrors.InvalidSelector(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.disco.SupportsWatch(sel) {
		return uuid.UUID{}, nil, xerrors.New(xerrors.ErrWatchNotSupported, "resource does not support list+watch: "+sel.Key())
	}

	ent, exists := r.selectors[sel]
	isNew := !exists
	if isNew {
		up := newUpstream(sel)
		ent = &entry{up: up}
		r.selectors[sel] = ent
	}

	id := uuid.New()
	br := newBridge(id, ent.up, isNew)
	ent.refcount++
	r.bridges[id] = &bridgeRecord{b: br, sel: sel}

	if isNew {
		ent.up.start(r.gw)
	}

	return id, br.Out, nil
}

// StopListen tears down one subscription (spec's two-step stop-listen
// protocol). If this was the last Bridge for its Selector, the Upstream is
// also aborted immediately (no draining).
func (r *Registry) StopListen(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.bridges[id]
	if !ok {
		return xerrors.UnknownSubscription(id.String())
	}
	delete(r.bridges, id)

	rec.b.stop()

	ent := r.selectors[rec.sel]
	ent.refcount--
	if ent.refcount <= 0 {
		ent.up.stop()
		delete(r.selectors, rec.sel)
	}
	return nil
}

// ContextSwitch tears down every live Upstream and Bridge unconditionally and
// swaps in a freshly constructed Gateway/Facade pair. Subscribers observe
// their channel close; the caller (commandsurface) is expected to have
// already validated connectivity to the new context via gw.ServerVersion
// before calling this, so the Registry is never left wired to a broken
// Gateway.
func (r *Registry) ContextSwitch(gw *gateway.Gateway, disco *discovery.Facade) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.bridges {
		rec.b.stop()
	}
	for _, ent := range r.selectors {
		ent.up.stop()
	}
	r.bridges = make(map[uuid.UUID]*bridgeRecord)
	r.selectors = make(map[selector.Selector]*entry)
	r.gw = gw
	r.disco = disco
}

// Gateway returns the Registry's current Gateway, used by command-surface
// operations (Get/List/RawGet) that don't go through the multiplexer.
func (r *Registry) Gateway() *gateway.Gateway {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gw
}

// Discovery returns the Registry's current Discovery Facade.
func (r *Registry) Discovery() *discovery.Facade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disco
}

// TaskInfo describes one live subscription for Debug, broken out into the
// Selector's own fields rather than its stringified Key (spec §4.5/§6).
type TaskInfo struct {
	ID        string `json:"id"`
	Group     string `json:"group"`
	Version   string `json:"version"`
	Plural    string `json:"plural"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// WatcherInfo describes one live Upstream for Debug.
type WatcherInfo struct {
	Key       string `json:"key"`
	RefCount  int    `json:"refCount"`
	CacheSize int    `json:"cacheSize"`
}

// DebugSnapshot is the {open_tasks, tasks, watchers} payload exposed by the
// debug command and the debug/introspection websocket surface.
type DebugSnapshot struct {
	OpenTasks int           `json:"openTasks"`
	Tasks     []TaskInfo    `json:"tasks"`
	Watchers  []WatcherInfo `json:"watchers"`
}

// Debug returns a point-in-time snapshot of the Registry's state.
func (r *Registry) Debug() DebugSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := DebugSnapshot{
		OpenTasks: len(r.bridges),
		Tasks:     make([]TaskInfo, 0, len(r.bridges)),
		Watchers:  make([]WatcherInfo, 0, len(r.selectors)),
	}
	for id, rec := range r.bridges {
		snap.Tasks = append(snap.Tasks, TaskInfo{
			ID:        id.String(),
			Group:     rec.sel.Group,
			Version:   rec.sel.APIVersion,
			Plural:    rec.sel.ResourcePlural,
			Name:      rec.sel.Name,
			Namespace: rec.sel.Namespace,
		})
	}
	for sel, ent := range r.selectors {
		snap.Watchers = append(snap.Watchers, WatcherInfo{
			Key:       sel.Key(),
			RefCount:  ent.refcount,
			CacheSize: ent.up.cacheSize(),
		})
	}
	return snap
}

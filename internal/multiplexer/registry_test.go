package multiplexer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	discoveryfake "k8s.io/client-go/discovery/fake"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	kubefake "k8s.io/client-go/kubernetes/fake"

	"github.com/clusterglass/clusterglass/internal/discovery"
	"github.com/clusterglass/clusterglass/internal/gateway"
	"github.com/clusterglass/clusterglass/internal/selector"
)

// newTestRegistry builds a Registry wired to fake clients: a dynamic client
// with no seed objects (the Upstream Worker's own watch behavior is covered
// in upstream_test.go via watch.NewFake, not here) and a discovery client
// that reports "pods" as the only list+watch-capable resource.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	kube := kubefake.NewSimpleClientset()
	disco, ok := kube.Discovery().(*discoveryfake.FakeDiscovery)
	if !ok {
		t.Fatal("expected kubernetes fake clientset to expose *discoveryfake.FakeDiscovery")
	}
	disco.Resources = []*metav1.APIResourceList{
		{
			GroupVersion: "v1",
			APIResources: []metav1.APIResource{
				{Name: "pods", Kind: "Pod", Namespaced: true, Verbs: metav1.Verbs{"list", "watch", "get"}},
			},
		},
	}

	dyn := dynamicfake.NewSimpleDynamicClient(runtime.NewScheme())
	gw := gateway.NewFromClients(dyn, kube, disco)

	facade := discovery.New(disco)
	return New(gw, facade)
}

func podSelector() selector.Selector {
	return selector.Selector{APIVersion: "v1", ResourcePlural: "pods", Namespace: "default"}
}

// TestRegistryStartListenSharesUpstream covers P1/P2: two subscribers to the
// same Selector share exactly one Upstream, and the refcount equals the
// number of live Bridges.
func TestRegistryStartListenSharesUpstream(t *testing.T) {
	r := newTestRegistry(t)
	sel := podSelector()

	id1, _, err := r.StartListen(sel)
	if err != nil {
		t.Fatalf("StartListen #1: %v", err)
	}
	id2, _, err := r.StartListen(sel)
	if err != nil {
		t.Fatalf("StartListen #2: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected distinct subscription ids")
	}

	r.mu.Lock()
	ent, ok := r.selectors[sel]
	r.mu.Unlock()
	if !ok {
		t.Fatal("expected one upstream entry for the shared selector")
	}
	if ent.refcount != 2 {
		t.Fatalf("expected refcount 2, got %d", ent.refcount)
	}

	_ = r.StopListen(id1)
	_ = r.StopListen(id2)
}

// TestRegistryStopListenTearsDownAtZero covers R1/R2: the Upstream is torn
// down, and its Selector removed from the registry, only once its refcount
// reaches zero.
func TestRegistryStopListenTearsDownAtZero(t *testing.T) {
	r := newTestRegistry(t)
	sel := podSelector()

	id1, _, err := r.StartListen(sel)
	if err != nil {
		t.Fatalf("StartListen #1: %v", err)
	}
	id2, _, err := r.StartListen(sel)
	if err != nil {
		t.Fatalf("StartListen #2: %v", err)
	}

	if err := r.StopListen(id1); err != nil {
		t.Fatalf("StopListen #1: %v", err)
	}
	r.mu.Lock()
	ent, ok := r.selectors[sel]
	r.mu.Unlock()
	if !ok || ent.refcount != 1 {
		t.Fatalf("expected the upstream to survive with refcount 1, got ok=%v ent=%+v", ok, ent)
	}

	if err := r.StopListen(id2); err != nil {
		t.Fatalf("StopListen #2: %v", err)
	}
	r.mu.Lock()
	_, ok = r.selectors[sel]
	r.mu.Unlock()
	if ok {
		t.Fatal("expected the upstream entry to be removed once refcount reached zero")
	}
}

// TestRegistryStopListenUnknownSubscription covers idempotence (P7): stopping
// an id that isn't live fails without disturbing other live subscriptions.
func TestRegistryStopListenUnknownSubscription(t *testing.T) {
	r := newTestRegistry(t)
	sel := podSelector()

	id, _, err := r.StartListen(sel)
	if err != nil {
		t.Fatalf("StartListen: %v", err)
	}
	defer r.StopListen(id)

	if err := r.StopListen(uuid.New()); err == nil {
		t.Fatal("expected an error stopping an unknown subscription id")
	}

	r.mu.Lock()
	_, stillThere := r.bridges[id]
	r.mu.Unlock()
	if !stillThere {
		t.Fatal("an unknown StopListen must not disturb an unrelated live subscription")
	}

	if err := r.StopListen(id); err != nil {
		t.Fatalf("StopListen on the real id should still succeed: %v", err)
	}
	if err := r.StopListen(id); err == nil {
		t.Fatal("expected stopping an already-stopped id to fail, not silently succeed")
	}
}

// TestRegistryStartListenRejectsUnwatchableResource covers the discovery
// guard: a resource discovery doesn't know about (or that lacks list+watch
// verbs) must never reach the Upstream Worker.
func TestRegistryStartListenRejectsUnwatchableResource(t *testing.T) {
	r := newTestRegistry(t)
	sel := selector.Selector{APIVersion: "v1", ResourcePlural: "secrets", Namespace: "default"}

	if _, _, err := r.StartListen(sel); err == nil {
		t.Fatal("expected StartListen to reject a resource discovery has no record of")
	}
}

// TestRegistryStartListenRejectsInvalidSelector covers basic input validation
// ahead of any discovery or upstream work.
func TestRegistryStartListenRejectsInvalidSelector(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.StartListen(selector.Selector{}); err == nil {
		t.Fatal("expected StartListen to reject an empty selector")
	}
}

// TestRegistryContextSwitchTearsDownEverything covers the context-switch
// path: every live Bridge's Out channel closes and both registry maps are
// cleared, regardless of how many selectors/subscribers were live.
func TestRegistryContextSwitchTearsDownEverything(t *testing.T) {
	r := newTestRegistry(t)
	sel := podSelector()

	_, out, err := r.StartListen(sel)
	if err != nil {
		t.Fatalf("StartListen: %v", err)
	}

	kube := kubefake.NewSimpleClientset()
	disco := kube.Discovery().(*discoveryfake.FakeDiscovery)
	dyn := dynamicfake.NewSimpleDynamicClient(runtime.NewScheme())
	newGw := gateway.NewFromClients(dyn, kube, disco)
	newFacade := discovery.New(disco)

	r.ContextSwitch(newGw, newFacade)

	// Events forwarded before the switch (the upstream's own Init) may still
	// be buffered in out; the channel must close once they are drained.
	for closed := false; !closed; {
		select {
		case _, ok := <-out:
			closed = !ok
		case <-time.After(2 * time.Second):
			t.Fatal("expected the old subscription's channel to close on context switch")
		}
	}

	r.mu.Lock()
	nSel, nBridges := len(r.selectors), len(r.bridges)
	r.mu.Unlock()
	if nSel != 0 || nBridges != 0 {
		t.Fatalf("expected both maps empty after context switch, got selectors=%d bridges=%d", nSel, nBridges)
	}
}

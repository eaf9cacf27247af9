// Package gateway wraps a single Kubernetes connection: the dynamic,
// discovery, and typed clientsets built from one *rest.Config.
package gateway

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/clusterglass/clusterglass/internal/selector"
	"github.com/clusterglass/clusterglass/internal/xerrors"
)

// Gateway is a live connection to one cluster context. It is deliberately
// thin: it knows how to turn a Selector into API calls, nothing more. Caching,
// fan-out, and retry belong to internal/multiplexer.
type Gateway struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	discovery discovery.DiscoveryInterface
}

// New builds a Gateway from a REST config, constructing the typed, dynamic,
// and discovery clients in one pass (mirroring how a single kubeconfig
// context yields all three client flavors).
func New(config *rest.Config) (*Gateway, error) {
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrClusterUnreachable, "failed to build clientset", err)
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrClusterUnreachable, "failed to build dynamic client", err)
	}
	disco, err := discovery.NewDiscoveryClientForConfig(config)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrClusterUnreachable, "failed to build discovery client", err)
	}
	return &Gateway{clientset: clientset, dynamic: dyn, discovery: disco}, nil
}

// NewFromClients builds a Gateway directly from already-constructed clients,
// bypassing rest.Config entirely. Production code has no reason to call
// this — it exists so tests can wire a Gateway to
// k8s.io/client-go/dynamic/fake and kubernetes/fake.
func NewFromClients(dyn dynamic.Interface, clientset kubernetes.Interface, disco discovery.DiscoveryInterface) *Gateway {
	return &Gateway{dynamic: dyn, clientset: clientset, discovery: disco}
}

// gvr renders a selector's resource coordinates as a GroupVersionResource.
func gvr(s selector.Selector) schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: s.Group, Version: s.APIVersion, Resource: s.ResourcePlural}
}

func (g *Gateway) resourceInterface(s selector.Selector) dynamic.ResourceInterface {
	ri := g.dynamic.Resource(gvr(s))
	if s.Namespaced() {
		return ri.Namespace(s.Namespace)
	}
	return ri
}

// List performs a one-shot, uncached list for the selector's collection.
// Rejects a single-object selector.
func (g *Gateway) List(ctx context.Context, s selector.Selector) (*unstructured.UnstructuredList, error) {
	if s.SingleObject() {
		return nil, xerrors.InvalidSelector("List requires a collection selector, got a single-object selector")
	}
	list, err := g.resourceInterface(s).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrAPIError, fmt.Sprintf("list %s failed", s.Key()), err)
	}
	return list, nil
}

// Get fetches a single object. s.Name must be set.
func (g *Gateway) Get(ctx context.Context, s selector.Selector) (*unstructured.Unstructured, error) {
	if !s.SingleObject() {
		return nil, xerrors.InvalidSelector("Get requires a single-object selector with Name set")
	}
	obj, err := g.resourceInterface(s).Get(ctx, s.Name, metav1.GetOptions{})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrResourceNotFound, fmt.Sprintf("get %s failed", s.Key()), err)
	}
	return obj, nil
}

// Watch opens a streaming-list watch for the selector's collection: the
// server is asked to emit the initial state as Bookmark-delimited ADDED
// events (SendInitialEvents), followed by live changes — this lets the
// Upstream Worker avoid a separate List call and a race between it and the
// watch's resourceVersion. See SendInitialEvents in the Kubernetes watch
// API (stable since 1.30).
func (g *Gateway) Watch(ctx context.Context, s selector.Selector) (watch.Interface, error) {
	if s.SingleObject() {
		return nil, xerrors.InvalidSelector("Watch requires a collection selector; use WatchSingle for one object")
	}
	sendInitial := true
	resourceVersionMatch := metav1.ResourceVersionMatchNotOlderThan
	w, err := g.resourceInterface(s).Watch(ctx, metav1.ListOptions{
		SendInitialEvents:    &sendInitial,
		ResourceVersionMatch: resourceVersionMatch,
		ResourceVersion:      "0",
		AllowWatchBookmarks:  true,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrAPIError, fmt.Sprintf("watch %s failed", s.Key()), err)
	}
	return w, nil
}

// WatchSingle opens a watch scoped to exactly one object via a field
// selector on metadata.name. s.Name must be set.
func (g *Gateway) WatchSingle(ctx context.Context, s selector.Selector) (watch.Interface, error) {
	if !s.SingleObject() {
		return nil, xerrors.InvalidSelector("WatchSingle requires Name to be set")
	}
	sendInitial := true
	w, err := g.resourceInterface(s).Watch(ctx, metav1.ListOptions{
		FieldSelector:        fmt.Sprintf("metadata.name=%s", s.Name),
		SendInitialEvents:    &sendInitial,
		ResourceVersionMatch: metav1.ResourceVersionMatchNotOlderThan,
		ResourceVersion:      "0",
		AllowWatchBookmarks:  true,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrAPIError, fmt.Sprintf("watch single %s failed", s.Key()), err)
	}
	return w, nil
}

// RawGet issues a raw GET against the API server for an arbitrary path (e.g.
// "/api/v1/namespaces/default/pods/foo/log"), returning the unparsed body.
// This is the Go counterpart of the original client's request_text escape
// hatch used for subresources with no typed representation (logs, exec).
func (g *Gateway) RawGet(ctx context.Context, path string) ([]byte, error) {
	body, err := g.discovery.RESTClient().Get().AbsPath(path).DoRaw(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrAPIError, fmt.Sprintf("raw GET %s failed", path), err)
	}
	return body, nil
}

// ServerVersion probes basic connectivity and returns the API server's
// reported version, used as a fast preflight after a context switch.
func (g *Gateway) ServerVersion(ctx context.Context) (string, error) {
	v, err := g.discovery.ServerVersion()
	if err != nil {
		return "", xerrors.Wrap(xerrors.ErrClusterUnreachable, "server version probe failed", err)
	}
	return v.String(), nil
}

// Discovery exposes the raw discovery client for internal/discovery to wrap.
func (g *Gateway) Discovery() discovery.DiscoveryInterface {
	return g.discovery
}

// Clientset exposes the typed clientset for components that need it directly.
func (g *Gateway) Clientset() kubernetes.Interface {
	return g.clientset
}

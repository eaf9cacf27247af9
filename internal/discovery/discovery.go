// Package discovery maintains a TTL-cached view of the cluster's API
// resources, used to validate selectors and answer list-api-resources.
package discovery

import (
	"log"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"

	"github.com/clusterglass/clusterglass/internal/selector"
)

// coreAPIGroups ships with Kubernetes itself; anything else is a CRD.
var coreAPIGroups = map[string]bool{
	"":                             true,
	"apps":                         true,
	"batch":                        true,
	"autoscaling":                  true,
	"networking.k8s.io":            true,
	"policy":                       true,
	"rbac.authorization.k8s.io":    true,
	"storage.k8s.io":               true,
	"admissionregistration.k8s.io": true,
	"apiextensions.k8s.io":         true,
	"certificates.k8s.io":          true,
	"coordination.k8s.io":          true,
	"discovery.k8s.io":             true,
	"events.k8s.io":                true,
	"flowcontrol.apiserver.k8s.io": true,
	"node.k8s.io":                  true,
	"scheduling.k8s.io":            true,
}

// Resource describes one API resource discovered from the server.
type Resource struct {
	Group      string
	Version    string
	Kind       string
	Plural     string
	Namespaced bool
	IsCRD      bool
	Verbs      []string
}

// Facade holds a TTL-cached snapshot of the cluster's discovered API
// resources, keyed by lowercase kind and by lowercase plural name.
type Facade struct {
	client discovery.DiscoveryInterface

	mu          sync.RWMutex
	resources   []Resource
	byName      map[string]Resource
	lastRefresh time.Time
	ttl         time.Duration
}

// New builds a Facade over a live discovery client with a 5 minute TTL,
// matching the cache lifetime the original backend used for the same
// concern.
func New(disco discovery.DiscoveryInterface) *Facade {
	return &Facade{
		client: disco,
		byName: make(map[string]Resource),
		ttl:    5 * time.Minute,
	}
}

// Refresh forces an immediate re-fetch of API resources from the server.
func (f *Facade) Refresh() error {
	_, lists, err := f.client.ServerGroupsAndResources()
	if err != nil {
		// client-go returns a non-nil, partially populated result alongside
		// this error when some API groups fail to respond; keep going.
		log.Printf("discovery: partial error listing API resources: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.resources = nil
	f.byName = make(map[string]Resource)

	for _, apiList := range lists {
		if apiList == nil {
			continue
		}
		gv, err := schema.ParseGroupVersion(apiList.GroupVersion)
		if err != nil {
			continue
		}
		for _, apiRes := range apiList.APIResources {
			if strings.Contains(apiRes.Name, "/") {
				continue // subresource, e.g. pods/log
			}
			res := Resource{
				Group:      gv.Group,
				Version:    gv.Version,
				Kind:       apiRes.Kind,
				Plural:     apiRes.Name,
				Namespaced: apiRes.Namespaced,
				IsCRD:      !coreAPIGroups[gv.Group],
				Verbs:      apiRes.Verbs,
			}
			f.resources = append(f.resources, res)

			for _, key := range []string{strings.ToLower(apiRes.Kind), strings.ToLower(apiRes.Name)} {
				if existing, ok := f.byName[key]; !ok || (!res.IsCRD && existing.IsCRD) {
					f.byName[key] = res
				}
			}
		}
	}
	f.lastRefresh = time.Now()
	log.Printf("discovery: found %d API resources", len(f.resources))
	return nil
}

func (f *Facade) refreshIfStale() {
	f.mu.RLock()
	stale := time.Since(f.lastRefresh) > f.ttl
	f.mu.RUnlock()
	if stale {
		if err := f.Refresh(); err != nil {
			log.Printf("discovery: refresh failed: %v", err)
		}
	}
}

// APIResources returns every discovered resource, refreshing first if the
// cache has gone stale.
func (f *Facade) APIResources() []Resource {
	f.refreshIfStale()
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Resource, len(f.resources))
	copy(out, f.resources)
	return out
}

// Resolve looks up a kind or plural name and returns the Resource describing
// it, disambiguated by group when group is non-empty.
func (f *Facade) Resolve(kindOrPlural, group string) (Resource, bool) {
	f.refreshIfStale()
	f.mu.RLock()
	defer f.mu.RUnlock()

	key := strings.ToLower(kindOrPlural)
	if group == "" {
		res, ok := f.byName[key]
		return res, ok
	}
	for _, res := range f.resources {
		if (strings.ToLower(res.Kind) == key || strings.ToLower(res.Plural) == key) && res.Group == group {
			return res, true
		}
	}
	return Resource{}, false
}

// GVR returns the GroupVersionResource for a kind or plural name, disambiguated
// by group when provided.
func (f *Facade) GVR(kindOrPlural, group string) (schema.GroupVersionResource, bool) {
	res, ok := f.Resolve(kindOrPlural, group)
	if !ok {
		return schema.GroupVersionResource{}, false
	}
	return schema.GroupVersionResource{Group: res.Group, Version: res.Version, Resource: res.Plural}, true
}

// SupportsWatch reports whether a Selector's resource both lists and watches,
// guarding against create-only resources like tokenreviews.
func (f *Facade) SupportsWatch(s selector.Selector) bool {
	res, ok := f.Resolve(s.ResourcePlural, s.Group)
	if !ok {
		return false
	}
	hasList, hasWatch := false, false
	for _, verb := range res.Verbs {
		switch verb {
		case "list":
			hasList = true
		case "watch":
			hasWatch = true
		}
	}
	return hasList && hasWatch
}

// Package selector defines the canonical identity of a watch request.
package selector

import "fmt"

// Selector is the canonical, hashable identity of a watch request. Two
// selectors are "the same" iff all five fields match exactly; no
// normalization (e.g. empty-group canonicalization) is performed beyond
// preserving the caller's strings. Because every field is a plain string,
// Selector is comparable and can be used directly as a Go map key — there is
// no separate hashing or serialization step.
type Selector struct {
	Group          string
	APIVersion     string
	ResourcePlural string
	Namespace      string // "" = cluster-wide
	Name           string // "" = collection watch, set = single-object watch
}

// Namespaced reports whether this selector is scoped to a single namespace.
func (s Selector) Namespaced() bool {
	return s.Namespace != ""
}

// SingleObject reports whether this selector watches exactly one object
// rather than a collection.
func (s Selector) SingleObject() bool {
	return s.Name != ""
}

// Key renders a stable string identity for debug/introspection output. It is
// never used for equality — Selector itself (as a map key) is the identity.
func (s Selector) Key() string {
	group := s.Group
	if group == "" {
		group = "core"
	}
	ns := s.Namespace
	if ns == "" {
		ns = "*"
	}
	if s.Name != "" {
		return fmt.Sprintf("%s/%s/%s/%s/%s", group, s.APIVersion, s.ResourcePlural, ns, s.Name)
	}
	return fmt.Sprintf("%s/%s/%s/%s", group, s.APIVersion, s.ResourcePlural, ns)
}

// Validate reports whether the selector carries the minimum fields needed to
// build a GroupVersionResource and a watch request.
func (s Selector) Validate() error {
	if s.APIVersion == "" {
		return fmt.Errorf("selector: apiVersion is required")
	}
	if s.ResourcePlural == "" {
		return fmt.Errorf("selector: resourcePlural is required")
	}
	return nil
}

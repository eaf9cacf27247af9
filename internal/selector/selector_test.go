package selector

import "testing"

func TestSelectorAsMapKey(t *testing.T) {
	a := Selector{APIVersion: "v1", ResourcePlural: "pods", Namespace: "default"}
	b := Selector{APIVersion: "v1", ResourcePlural: "pods", Namespace: "default"}
	c := Selector{APIVersion: "v1", ResourcePlural: "pods", Namespace: "kube-system"}

	m := map[Selector]int{}
	m[a] = 1
	m[b] = 2 // same key as a
	m[c] = 3

	if len(m) != 2 {
		t.Fatalf("expected 2 distinct keys, got %d", len(m))
	}
	if m[a] != 2 {
		t.Fatalf("expected b's write to overwrite a's entry, got %d", m[a])
	}
}

func TestNamespacedAndSingleObject(t *testing.T) {
	cluster := Selector{APIVersion: "v1", ResourcePlural: "nodes"}
	if cluster.Namespaced() {
		t.Fatal("expected cluster-wide selector to report Namespaced() == false")
	}
	if cluster.SingleObject() {
		t.Fatal("expected collection selector to report SingleObject() == false")
	}

	single := Selector{APIVersion: "v1", ResourcePlural: "pods", Namespace: "default", Name: "foo"}
	if !single.Namespaced() || !single.SingleObject() {
		t.Fatal("expected namespaced single-object selector to report both true")
	}
}

func TestKeyDistinguishesGroupAndVersion(t *testing.T) {
	a := Selector{Group: "apps", APIVersion: "v1", ResourcePlural: "deployments", Namespace: "default"}
	b := Selector{Group: "apps", APIVersion: "v1beta1", ResourcePlural: "deployments", Namespace: "default"}
	if a.Key() == b.Key() {
		t.Fatal("expected selectors differing only in APIVersion to render distinct keys")
	}
}

func TestValidate(t *testing.T) {
	if err := (Selector{}).Validate(); err == nil {
		t.Fatal("expected empty selector to fail validation")
	}
	if err := (Selector{APIVersion: "v1", ResourcePlural: "pods"}).Validate(); err != nil {
		t.Fatalf("expected valid selector to pass, got %v", err)
	}
}

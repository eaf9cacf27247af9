package gateway

import (
	"context"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	discoveryfake "k8s.io/client-go/discovery/fake"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	kubefake "k8s.io/client-go/kubernetes/fake"

	"github.com/clusterglass/clusterglass/internal/selector"
)

func podGVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: "", Version: "v1", Resource: "pods"}
}

func podSel(name string) selector.Selector {
	return selector.Selector{APIVersion: "v1", ResourcePlural: "pods", Namespace: "default", Name: name}
}

func unstructuredPod(name, uid string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": "default",
			"uid":       uid,
		},
	}}
}

func newTestGateway(t *testing.T, objs ...runtime.Object) *Gateway {
	t.Helper()
	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{podGVR(): "PodList"}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds, objs...)
	kube := kubefake.NewSimpleClientset()
	disco := kube.Discovery().(*discoveryfake.FakeDiscovery)
	return NewFromClients(dyn, kube, disco)
}

func TestGatewayGetSingleObject(t *testing.T) {
	gw := newTestGateway(t, unstructuredPod("a", "uid-a"))

	obj, err := gw.Get(context.Background(), podSel("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.GetName() != "a" || string(obj.GetUID()) != "uid-a" {
		t.Fatalf("unexpected object: name=%q uid=%q", obj.GetName(), obj.GetUID())
	}
}

func TestGatewayGetRejectsCollectionSelector(t *testing.T) {
	gw := newTestGateway(t)
	if _, err := gw.Get(context.Background(), podSel("")); err == nil {
		t.Fatal("expected Get to reject a selector with no Name")
	}
}

func TestGatewayListReturnsAllObjects(t *testing.T) {
	gw := newTestGateway(t, unstructuredPod("a", "uid-a"), unstructuredPod("b", "uid-b"))

	list, err := gw.List(context.Background(), podSel(""))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(list.Items))
	}
}

func TestGatewayListRejectsSingleObjectSelector(t *testing.T) {
	gw := newTestGateway(t)
	if _, err := gw.List(context.Background(), podSel("a")); err == nil {
		t.Fatal("expected List to reject a selector with Name set")
	}
}

func TestGatewayWatchRejectsSingleObjectSelector(t *testing.T) {
	gw := newTestGateway(t)
	if _, err := gw.Watch(context.Background(), podSel("a")); err == nil {
		t.Fatal("expected Watch to reject a single-object selector")
	}
}

func TestGatewayWatchSingleRejectsCollectionSelector(t *testing.T) {
	gw := newTestGateway(t)
	if _, err := gw.WatchSingle(context.Background(), podSel("")); err == nil {
		t.Fatal("expected WatchSingle to reject a selector with no Name")
	}
}

func TestGatewayWatchSucceedsForCollectionSelector(t *testing.T) {
	gw := newTestGateway(t)
	w, err := gw.Watch(context.Background(), podSel(""))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()
}

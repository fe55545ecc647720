package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	discoveryfake "k8s.io/client-go/discovery/fake"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	clienttesting "k8s.io/client-go/testing"

	"github.com/sttts/kcmodel/pkg/resources"
)

var (
	podsGVR       = schema.GroupVersionResource{Version: "v1", Resource: "pods"}
	namespacesGVR = schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}
)

func fakeDiscovery(openshift bool) *discoveryfake.FakeDiscovery {
	lists := []*metav1.APIResourceList{
		{
			GroupVersion: "v1",
			APIResources: []metav1.APIResource{
				{Name: "pods", Namespaced: true, Kind: "Pod", Verbs: metav1.Verbs{"list", "watch", "delete"}},
				{Name: "namespaces", Namespaced: false, Kind: "Namespace", Verbs: metav1.Verbs{"list", "watch", "delete"}},
			},
		},
	}
	if openshift {
		lists = append(lists, &metav1.APIResourceList{
			GroupVersion: "project.openshift.io/v1",
			APIResources: []metav1.APIResource{
				{Name: "projects", Namespaced: false, Kind: "Project", Verbs: metav1.Verbs{"list", "watch"}},
			},
		})
	}
	return &discoveryfake.FakeDiscovery{Fake: &clienttesting.Fake{Resources: lists}}
}

func unstructuredObj(apiVersion, kind, namespace, name string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion(apiVersion)
	u.SetKind(kind)
	u.SetNamespace(namespace)
	u.SetName(name)
	return u
}

func newTestCluster(t *testing.T, openshift bool, objs ...runtime.Object) (*Cluster, *dynamicfake.FakeDynamicClient) {
	t.Helper()
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), map[schema.GroupVersionResource]string{
		podsGVR:       "PodList",
		namespacesGVR: "NamespaceList",
	}, objs...)
	c := newCluster(dyn, fakeDiscovery(openshift), WithNamespace("a"))
	t.Cleanup(func() { _ = c.Close() })
	return c, dyn
}

func TestListScopesByNamespace(t *testing.T) {
	c, _ := newTestCluster(t, false,
		unstructuredObj("v1", "Pod", "a", "p1"),
		unstructuredObj("v1", "Pod", "b", "p2"),
		unstructuredObj("v1", "Namespace", "", "a"),
		unstructuredObj("v1", "Namespace", "", "b"),
	)
	ctx := context.Background()

	pods, _, err := c.List(ctx, resources.PodsKind, "a")
	if err != nil {
		t.Fatalf("list pods: %v", err)
	}
	if len(pods) != 1 || pods[0].GetName() != "p1" {
		t.Fatalf("expected only p1 in namespace a, got %d objects", len(pods))
	}
	if got := resources.KindOf(pods[0]); got != resources.PodsKind {
		t.Fatalf("listed object has kind %v", got)
	}

	all, _, err := c.List(ctx, resources.PodsKind, "")
	if err != nil {
		t.Fatalf("list all pods: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 pods cluster-wide, got %d", len(all))
	}

	// namespaces are cluster-scoped, the namespace argument is ignored
	nss, _, err := c.List(ctx, resources.NamespacesKind, "a")
	if err != nil {
		t.Fatalf("list namespaces: %v", err)
	}
	if len(nss) != 2 {
		t.Fatalf("expected 2 namespaces, got %d", len(nss))
	}
}

func TestListUnknownKind(t *testing.T) {
	c, _ := newTestCluster(t, false)
	_, _, err := c.List(context.Background(), resources.DeploymentsKind, "a")
	if err == nil {
		t.Fatalf("expected mapping error")
	}
	if !meta.IsNoMatchError(err) {
		t.Fatalf("expected no match error, got %v", err)
	}
}

func TestWatchDeliversCreates(t *testing.T) {
	c, dyn := newTestCluster(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := c.Watch(ctx, resources.PodsKind, "a", "")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Stop()

	if _, err := dyn.Resource(podsGVR).Namespace("a").Create(ctx, unstructuredObj("v1", "Pod", "a", "p1"), metav1.CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case ev := <-w.ResultChan():
		if ev.Type != apiwatch.Added {
			t.Fatalf("expected Added, got %s", ev.Type)
		}
		u, ok := ev.Object.(*unstructured.Unstructured)
		if !ok || u.GetName() != "p1" {
			t.Fatalf("unexpected object %#v", ev.Object)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no event received")
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCluster(t, false, unstructuredObj("v1", "Pod", "a", "p1"))
	ctx := context.Background()

	if err := c.Delete(ctx, resources.PodsKind, "a", "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	pods, _, err := c.List(ctx, resources.PodsKind, "a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pods) != 0 {
		t.Fatalf("expected pod to be gone, got %d", len(pods))
	}
	if err := c.Delete(ctx, resources.PodsKind, "a", "p1"); err == nil {
		t.Fatalf("expected error deleting missing pod")
	}
}

func TestIsOpenShift(t *testing.T) {
	ctx := context.Background()
	k8s, _ := newTestCluster(t, false)
	if ok, err := k8s.IsOpenShift(ctx); err != nil || ok {
		t.Fatalf("plain cluster detected as OpenShift: %v %v", ok, err)
	}
	ocp, _ := newTestCluster(t, true)
	if ok, err := ocp.IsOpenShift(ctx); err != nil || !ok {
		t.Fatalf("OpenShift cluster not detected: %v %v", ok, err)
	}
}

// failingDiscovery fails to list API groups. FakeDiscovery ignores reactor
// errors for ServerGroups, so the failure is injected here.
type failingDiscovery struct {
	*discoveryfake.FakeDiscovery
	err error
}

func (d *failingDiscovery) ServerGroups() (*metav1.APIGroupList, error) {
	return nil, d.err
}

func TestIsOpenShiftDiscoveryError(t *testing.T) {
	disco := &failingDiscovery{FakeDiscovery: fakeDiscovery(false), err: errors.New("boom")}
	c := newCluster(dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()), disco)
	defer func() { _ = c.Close() }()
	ok, err := c.IsOpenShift(context.Background())
	if !errors.Is(err, disco.err) {
		t.Fatalf("expected discovery error, got %v", err)
	}
	if ok {
		t.Fatalf("failed discovery must not report OpenShift")
	}
}

func TestNamespace(t *testing.T) {
	c, _ := newTestCluster(t, false)
	if c.Namespace() != "a" {
		t.Fatalf("Namespace() = %q, want a", c.Namespace())
	}
	c.SetNamespace("b")
	if c.Namespace() != "b" {
		t.Fatalf("Namespace() = %q, want b", c.Namespace())
	}
}

func TestCloseStopsRefreshLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newCluster(dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()), fakeDiscovery(false), WithRefreshInterval(10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// idempotent
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

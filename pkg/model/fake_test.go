package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/sttts/kcmodel/pkg/resources"
	"github.com/sttts/kcmodel/pkg/watch"
)

// recorder collects the calls of all fakes in one ordered log.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) record(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

// take returns the log and resets it.
func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.log
	r.log = nil
	return out
}

type fakeClient struct {
	rec *recorder

	mu           sync.Mutex
	objects      []client.Object
	rv           string
	namespace    string
	lists        map[resources.Kind]int
	deleted      []string
	deleteErr    error
	openshift    bool
	openshiftErr error
	closeErr     error
}

var _ Client = &fakeClient{}

func newFakeClient(rec *recorder, namespace string, objs ...client.Object) *fakeClient {
	return &fakeClient{rec: rec, objects: objs, rv: "10", namespace: namespace, lists: map[resources.Kind]int{}}
}

func (c *fakeClient) List(ctx context.Context, kind resources.Kind, namespace string) ([]client.Object, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[kind]++
	var out []client.Object
	for _, obj := range c.objects {
		if resources.KindOf(obj) != kind {
			continue
		}
		if namespace != "" && obj.GetNamespace() != namespace {
			continue
		}
		out = append(out, obj.DeepCopyObject().(client.Object))
	}
	return out, c.rv, nil
}

func (c *fakeClient) Watch(ctx context.Context, kind resources.Kind, namespace, resourceVersion string) (apiwatch.Interface, error) {
	return apiwatch.NewFake(), nil
}

func (c *fakeClient) Delete(ctx context.Context, kind resources.Kind, namespace, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deleted = append(c.deleted, fmt.Sprintf("%s %s/%s", kind.Kind, namespace, name))
	return nil
}

func (c *fakeClient) Namespace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.namespace
}

func (c *fakeClient) SetNamespace(namespace string) {
	c.mu.Lock()
	c.namespace = namespace
	c.mu.Unlock()
	c.rec.record("client namespace %s", namespace)
}

func (c *fakeClient) IsOpenShift(ctx context.Context) (bool, error) {
	return c.openshift, c.openshiftErr
}

func (c *fakeClient) Close() error {
	c.rec.record("client close")
	return c.closeErr
}

func (c *fakeClient) listCount(kind resources.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists[kind]
}

// recordingWatch logs subscription requests instead of opening them.
type recordingWatch struct {
	rec *recorder
}

var _ Watch = &recordingWatch{}

func handleNames(handles []*watch.Watchable) string {
	names := make([]string, 0, len(handles))
	for _, h := range handles {
		names = append(names, h.String())
	}
	return strings.Join(names, ",")
}

func (w *recordingWatch) WatchAll(handles []*watch.Watchable) {
	w.rec.record("watch %s", handleNames(handles))
}

func (w *recordingWatch) IgnoreAll(handles []*watch.Watchable) {
	w.rec.record("ignore %s", handleNames(handles))
}

func (w *recordingWatch) Close() {
	w.rec.record("watch close")
}

// recordingObservable logs notifications synchronously.
type recordingObservable struct {
	rec *recorder
}

var _ Observable = &recordingObservable{}

func (o *recordingObservable) FireAdded(obj client.Object)    { o.rec.record("added %s", obj.GetName()) }
func (o *recordingObservable) FireRemoved(obj client.Object)  { o.rec.record("removed %s", obj.GetName()) }
func (o *recordingObservable) FireModified(obj client.Object) { o.rec.record("modified %s", obj.GetName()) }
func (o *recordingObservable) FireCurrentNamespace(name string) {
	o.rec.record("current namespace %s", name)
}
func (o *recordingObservable) FireError(err error) { o.rec.record("error %v", err) }

type trackedNamespaced struct {
	resources.NamespacedProvider
	rec *recorder
}

func (p *trackedNamespaced) Invalidate() {
	p.rec.record("invalidate %s", p.Kind().Kind)
	p.NamespacedProvider.Invalidate()
}

type trackedClusterScoped struct {
	resources.Provider
	rec *recorder
}

func (p *trackedClusterScoped) Invalidate() {
	p.rec.record("invalidate %s", p.Kind().Kind)
	p.Provider.Invalidate()
}

// trackedRegistry registers namespaces, nodes, pods and config maps with
// providers that log invalidation.
func trackedRegistry(rec *recorder) *resources.Registry {
	r := resources.NewRegistry(resources.NamespacesKind)
	for _, kind := range []resources.Kind{resources.NamespacesKind, resources.NodesKind} {
		kind := kind
		r.RegisterFactory(kind, false, func(c resources.Client, namespace string, opts resources.Options) resources.Provider {
			return &trackedClusterScoped{Provider: resources.NewClusterScoped(kind, c, opts), rec: rec}
		})
	}
	for _, kind := range []resources.Kind{resources.PodsKind, resources.ConfigMapsKind} {
		kind := kind
		r.RegisterFactory(kind, true, func(c resources.Client, namespace string, opts resources.Options) resources.Provider {
			return &trackedNamespaced{NamespacedProvider: resources.NewNamespaced(kind, c, namespace, opts), rec: rec}
		})
	}
	return r
}

func testOptions(rec *recorder) Options {
	return Options{
		NewWatch: func(watch.EventHandler, watch.Options) Watch {
			return &recordingWatch{rec: rec}
		},
	}
}

func pod(namespace, name, rv string) *corev1.Pod {
	return &corev1.Pod{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name, ResourceVersion: rv},
	}
}

func configMap(namespace, name string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name, ResourceVersion: "3"},
	}
}

func namespace(name string) *corev1.Namespace {
	return &corev1.Namespace{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{Name: name, ResourceVersion: "2"},
	}
}

func names(objs []client.Object) []string {
	out := make([]string, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.GetName())
	}
	return out
}

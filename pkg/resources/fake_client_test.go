package resources

import (
	"context"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// fakeClient serves a fixed set of objects. List can be gated to observe
// calls that are in flight.
type fakeClient struct {
	mu       sync.Mutex
	objects  []client.Object
	rv       string
	lists    int
	listNS   []string
	listErr  error
	gate     chan struct{}
	watchRVs []string
	watchErr error
}

func (c *fakeClient) List(ctx context.Context, kind Kind, namespace string) ([]client.Object, string, error) {
	c.mu.Lock()
	c.lists++
	c.listNS = append(c.listNS, namespace)
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, "", c.listErr
	}
	var out []client.Object
	for _, obj := range c.objects {
		if KindOf(obj) != kind {
			continue
		}
		if namespace != "" && obj.GetNamespace() != namespace {
			continue
		}
		out = append(out, obj.DeepCopyObject().(client.Object))
	}
	return out, c.rv, nil
}

func (c *fakeClient) Watch(ctx context.Context, kind Kind, namespace, resourceVersion string) (apiwatch.Interface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchRVs = append(c.watchRVs, resourceVersion)
	if c.watchErr != nil {
		return nil, c.watchErr
	}
	return apiwatch.NewFake(), nil
}

func (c *fakeClient) listCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

func (c *fakeClient) setObjects(objs ...client.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = objs
}

func pod(namespace, name, rv string) *corev1.Pod {
	return &corev1.Pod{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name, ResourceVersion: rv},
	}
}

func namespace(name string) *corev1.Namespace {
	return &corev1.Namespace{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Namespace"},
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
}

func names(objs []client.Object) []string {
	out := make([]string, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.GetName())
	}
	return out
}

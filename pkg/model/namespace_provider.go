package model

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/sttts/kcmodel/pkg/resources"
)

// NamespaceProvider groups the namespaced providers of one namespace.
// Invariant: every provider is scoped to the bound namespace.
type NamespaceProvider struct {
	client    resources.Client
	namespace client.Object
	providers []resources.NamespacedProvider
}

// NewNamespaceProvider instantiates the namespaced providers of registry for
// the given namespace object.
func NewNamespaceProvider(c resources.Client, namespace client.Object, registry *resources.Registry, opts resources.Options) (*NamespaceProvider, error) {
	if namespace == nil || namespace.GetName() == "" {
		return nil, fmt.Errorf("namespace without name")
	}
	// the cluster's own providers own the size gauge of their kinds
	opts.DisableSizeMetric = true
	providers, err := registry.BuildNamespaced(c, namespace.GetName(), opts)
	if err != nil {
		return nil, err
	}
	return newNamespaceProvider(c, namespace, providers), nil
}

func newNamespaceProvider(c resources.Client, namespace client.Object, providers []resources.NamespacedProvider) *NamespaceProvider {
	for _, p := range providers {
		p.SetNamespace(namespace.GetName())
	}
	return &NamespaceProvider{client: c, namespace: namespace, providers: providers}
}

// Name returns the name of the bound namespace.
func (n *NamespaceProvider) Name() string {
	return n.namespace.GetName()
}

// Namespace returns the bound namespace object.
func (n *NamespaceProvider) Namespace() client.Object {
	return n.namespace
}

// Pods returns the pods of the namespace.
func (n *NamespaceProvider) Pods(ctx context.Context) ([]corev1.Pod, error) {
	objs, err := n.Resources(ctx, resources.PodsKind)
	if err != nil {
		return nil, err
	}
	pods := make([]corev1.Pod, 0, len(objs))
	for _, obj := range objs {
		switch o := obj.(type) {
		case *corev1.Pod:
			pods = append(pods, *o)
		case *unstructured.Unstructured:
			var pod corev1.Pod
			if err := runtime.DefaultUnstructuredConverter.FromUnstructured(o.Object, &pod); err != nil {
				return nil, fmt.Errorf("failed to convert pod %s/%s: %w", o.GetNamespace(), o.GetName(), err)
			}
			pods = append(pods, pod)
		default:
			return nil, fmt.Errorf("unexpected pod type %T", obj)
		}
	}
	return pods, nil
}

// Resources returns the resources of kind in the namespace. Kinds without a
// provider yield an empty result.
func (n *NamespaceProvider) Resources(ctx context.Context, kind resources.Kind) ([]client.Object, error) {
	p := n.provider(kind)
	if p == nil {
		return []client.Object{}, nil
	}
	return p.GetAllResources(ctx)
}

// HasResource reports whether obj is the namespace itself or cached by one
// of the providers.
func (n *NamespaceProvider) HasResource(obj client.Object) bool {
	if id, ok := resources.IdentityOf(obj); ok {
		if nsID, ok := resources.IdentityOf(n.namespace); ok && id == nsID {
			return true
		}
	}
	for _, p := range n.providers {
		if p.Has(obj) {
			return true
		}
	}
	return false
}

// Clear evicts obj from the provider caching it.
func (n *NamespaceProvider) Clear(obj client.Object) {
	for _, p := range n.providers {
		if p.Has(obj) {
			p.InvalidateResource(obj)
			return
		}
	}
}

// ClearKind invalidates the provider of kind.
func (n *NamespaceProvider) ClearKind(kind resources.Kind) {
	if p := n.provider(kind); p != nil {
		p.Invalidate()
	}
}

// ClearAll invalidates every provider.
func (n *NamespaceProvider) ClearAll() {
	for _, p := range n.providers {
		p.Invalidate()
	}
}

func (n *NamespaceProvider) provider(kind resources.Kind) resources.NamespacedProvider {
	for _, p := range n.providers {
		if p.Kind() == kind {
			return p
		}
	}
	return nil
}

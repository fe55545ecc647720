package resources

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Kubernetes kinds.
var (
	NamespacesKind                = NewKind(corev1.SchemeGroupVersion.WithKind("Namespace"))
	NodesKind                     = NewKind(corev1.SchemeGroupVersion.WithKind("Node"))
	PodsKind                      = NewKind(corev1.SchemeGroupVersion.WithKind("Pod"))
	ServicesKind                  = NewKind(corev1.SchemeGroupVersion.WithKind("Service"))
	EndpointsKind                 = NewKind(corev1.SchemeGroupVersion.WithKind("Endpoints"))
	PersistentVolumesKind         = NewKind(corev1.SchemeGroupVersion.WithKind("PersistentVolume"))
	PersistentVolumeClaimsKind    = NewKind(corev1.SchemeGroupVersion.WithKind("PersistentVolumeClaim"))
	ConfigMapsKind                = NewKind(corev1.SchemeGroupVersion.WithKind("ConfigMap"))
	SecretsKind                   = NewKind(corev1.SchemeGroupVersion.WithKind("Secret"))
	DeploymentsKind               = NewKind(appsv1.SchemeGroupVersion.WithKind("Deployment"))
	StatefulSetsKind              = NewKind(appsv1.SchemeGroupVersion.WithKind("StatefulSet"))
	DaemonSetsKind                = NewKind(appsv1.SchemeGroupVersion.WithKind("DaemonSet"))
	JobsKind                      = NewKind(batchv1.SchemeGroupVersion.WithKind("Job"))
	CronJobsKind                  = NewKind(batchv1.SchemeGroupVersion.WithKind("CronJob"))
	IngressesKind                 = NewKind(networkingv1.SchemeGroupVersion.WithKind("Ingress"))
	StorageClassesKind            = NewKind(storagev1.SchemeGroupVersion.WithKind("StorageClass"))
	CustomResourceDefinitionsKind = NewKind(schema.GroupVersionKind{Group: "apiextensions.k8s.io", Version: "v1", Kind: "CustomResourceDefinition"})
)

// OpenShift kinds. They are addressed through the dynamic client, so no
// typed API package is needed.
var (
	ProjectsKind          = NewKind(schema.GroupVersionKind{Group: "project.openshift.io", Version: "v1", Kind: "Project"})
	ImageStreamsKind      = NewKind(schema.GroupVersionKind{Group: "image.openshift.io", Version: "v1", Kind: "ImageStream"})
	RoutesKind            = NewKind(schema.GroupVersionKind{Group: "route.openshift.io", Version: "v1", Kind: "Route"})
	BuildConfigsKind      = NewKind(schema.GroupVersionKind{Group: "build.openshift.io", Version: "v1", Kind: "BuildConfig"})
	BuildsKind            = NewKind(schema.GroupVersionKind{Group: "build.openshift.io", Version: "v1", Kind: "Build"})
	DeploymentConfigsKind = NewKind(schema.GroupVersionKind{Group: "apps.openshift.io", Version: "v1", Kind: "DeploymentConfig"})
)

// Factory builds the provider of one kind. namespace is the initial scope
// and is ignored for cluster-scoped kinds.
type Factory func(c Client, namespace string, opts Options) Provider

// NamespacedFactory returns a Factory for a namespaced kind.
func NamespacedFactory(kind Kind) Factory {
	return func(c Client, namespace string, opts Options) Provider {
		return NewNamespaced(kind, c, namespace, opts)
	}
}

// ClusterScopedFactory returns a Factory for a cluster-scoped kind.
func ClusterScopedFactory(kind Kind) Factory {
	return func(c Client, _ string, opts Options) Provider {
		return NewClusterScoped(kind, c, opts)
	}
}

type registration struct {
	kind       Kind
	namespaced bool
	factory    Factory
}

// Registry maps kinds to provider factories. Registration order is kept.
type Registry struct {
	namespaces Kind
	entries    []registration
	index      map[Kind]int
}

// NewRegistry returns an empty registry whose namespace listing kind is
// namespaces.
func NewRegistry(namespaces Kind) *Registry {
	return &Registry{namespaces: namespaces, index: map[Kind]int{}}
}

// NamespacesKind returns the kind listing the namespaces of the cluster.
// On OpenShift these are projects.
func (r *Registry) NamespacesKind() Kind { return r.namespaces }

// Register adds the generic provider for kind.
func (r *Registry) Register(kind Kind, namespaced bool) {
	f := ClusterScopedFactory(kind)
	if namespaced {
		f = NamespacedFactory(kind)
	}
	r.RegisterFactory(kind, namespaced, f)
}

// RegisterFactory adds or replaces the factory for kind.
func (r *Registry) RegisterFactory(kind Kind, namespaced bool, f Factory) {
	reg := registration{kind: kind, namespaced: namespaced, factory: f}
	if i, ok := r.index[kind]; ok {
		r.entries[i] = reg
		return
	}
	r.index[kind] = len(r.entries)
	r.entries = append(r.entries, reg)
}

// Kinds returns all registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.kind)
	}
	return out
}

// IsNamespaced reports whether kind is registered and namespaced.
func (r *Registry) IsNamespaced(kind Kind) (namespaced, ok bool) {
	i, ok := r.index[kind]
	if !ok {
		return false, false
	}
	return r.entries[i].namespaced, true
}

// Build instantiates a provider for every registered kind. Namespaced
// providers are scoped to namespace.
func (r *Registry) Build(c Client, namespace string, opts Options) ([]Provider, error) {
	out := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		p := e.factory(c, namespace, opts)
		if p == nil {
			return nil, fmt.Errorf("factory for %s returned no provider", e.kind)
		}
		if p.Kind() != e.kind || p.Namespaced() != e.namespaced {
			return nil, fmt.Errorf("factory for %s returned a provider for %s", e.kind, p.Kind())
		}
		out = append(out, p)
	}
	return out, nil
}

// BuildNamespaced instantiates only the namespaced providers, scoped to
// namespace.
func (r *Registry) BuildNamespaced(c Client, namespace string, opts Options) ([]NamespacedProvider, error) {
	var out []NamespacedProvider
	for _, e := range r.entries {
		if !e.namespaced {
			continue
		}
		p, ok := e.factory(c, namespace, opts).(NamespacedProvider)
		if !ok || p.Kind() != e.kind {
			return nil, fmt.Errorf("factory for %s did not return a namespaced provider", e.kind)
		}
		out = append(out, p)
	}
	return out, nil
}

// KubernetesRegistry returns the providers of a plain Kubernetes cluster.
func KubernetesRegistry() *Registry {
	r := NewRegistry(NamespacesKind)
	registerKubernetes(r)
	return r
}

// OpenShiftRegistry returns the Kubernetes providers plus the OpenShift
// specific ones. Namespaces are listed as projects.
func OpenShiftRegistry() *Registry {
	r := NewRegistry(ProjectsKind)
	registerKubernetes(r)
	r.Register(ProjectsKind, false)
	r.Register(ImageStreamsKind, true)
	r.Register(RoutesKind, true)
	r.Register(BuildConfigsKind, true)
	r.Register(BuildsKind, true)
	r.Register(DeploymentConfigsKind, true)
	return r
}

func registerKubernetes(r *Registry) {
	r.Register(NamespacesKind, false)
	r.Register(NodesKind, false)
	r.Register(PodsKind, true)
	r.Register(DeploymentsKind, true)
	r.Register(StatefulSetsKind, true)
	r.Register(DaemonSetsKind, true)
	r.Register(JobsKind, true)
	r.Register(CronJobsKind, true)
	r.Register(ServicesKind, true)
	r.Register(EndpointsKind, true)
	r.Register(PersistentVolumesKind, false)
	r.Register(PersistentVolumeClaimsKind, true)
	r.Register(StorageClassesKind, false)
	r.Register(ConfigMapsKind, true)
	r.Register(SecretsKind, true)
	r.Register(IngressesKind, true)
	r.Register(CustomResourceDefinitionsKind, false)
}

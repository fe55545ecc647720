package resources

import (
	"testing"
)

func TestKubernetesRegistry(t *testing.T) {
	r := KubernetesRegistry()
	if r.NamespacesKind() != NamespacesKind {
		t.Errorf("NamespacesKind() = %v, want %v", r.NamespacesKind(), NamespacesKind)
	}
	for kind, want := range map[Kind]bool{
		PodsKind:                      true,
		DeploymentsKind:               true,
		NamespacesKind:                false,
		NodesKind:                     false,
		CustomResourceDefinitionsKind: false,
	} {
		namespaced, ok := r.IsNamespaced(kind)
		if !ok {
			t.Errorf("%v not registered", kind)
			continue
		}
		if namespaced != want {
			t.Errorf("IsNamespaced(%v) = %v, want %v", kind, namespaced, want)
		}
	}
	if _, ok := r.IsNamespaced(RoutesKind); ok {
		t.Errorf("routes must not be registered on plain Kubernetes")
	}
}

func TestOpenShiftRegistryIsSuperset(t *testing.T) {
	k8s, ocp := KubernetesRegistry(), OpenShiftRegistry()
	for _, kind := range k8s.Kinds() {
		if _, ok := ocp.IsNamespaced(kind); !ok {
			t.Errorf("%v missing from OpenShift registry", kind)
		}
	}
	for _, kind := range []Kind{ProjectsKind, ImageStreamsKind, RoutesKind, BuildConfigsKind, BuildsKind, DeploymentConfigsKind} {
		if _, ok := ocp.IsNamespaced(kind); !ok {
			t.Errorf("%v missing from OpenShift registry", kind)
		}
	}
	if ocp.NamespacesKind() != ProjectsKind {
		t.Errorf("NamespacesKind() = %v, want %v", ocp.NamespacesKind(), ProjectsKind)
	}
}

func TestRegistryBuild(t *testing.T) {
	r := NewRegistry(NamespacesKind)
	r.Register(NamespacesKind, false)
	r.Register(PodsKind, true)
	r.Register(ConfigMapsKind, true)

	c := &fakeClient{}
	providers, err := r.Build(c, "a", Options{})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if len(providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(providers))
	}
	for i, kind := range r.Kinds() {
		if providers[i].Kind() != kind {
			t.Errorf("provider %d has kind %v, want %v", i, providers[i].Kind(), kind)
		}
	}
	if providers[0].Namespaced() {
		t.Errorf("namespaces provider must be cluster-scoped")
	}
	np, ok := providers[1].(NamespacedProvider)
	if !ok || !np.Namespaced() || np.Namespace() != "a" {
		t.Errorf("pods provider not scoped to namespace a")
	}

	nps, err := r.BuildNamespaced(c, "b", Options{})
	if err != nil {
		t.Fatalf("BuildNamespaced() failed: %v", err)
	}
	if len(nps) != 2 {
		t.Fatalf("expected 2 namespaced providers, got %d", len(nps))
	}
	for _, p := range nps {
		if p.Namespace() != "b" {
			t.Errorf("%v scoped to %q, want b", p.Kind(), p.Namespace())
		}
	}
}

func TestRegisterFactoryReplacesInPlace(t *testing.T) {
	r := NewRegistry(NamespacesKind)
	r.Register(NamespacesKind, false)
	r.Register(PodsKind, true)

	called := false
	r.RegisterFactory(NamespacesKind, false, func(c Client, namespace string, opts Options) Provider {
		called = true
		return NewClusterScoped(NamespacesKind, c, opts)
	})
	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != NamespacesKind {
		t.Fatalf("replacement changed registration order: %v", kinds)
	}
	if _, err := r.Build(&fakeClient{}, "", Options{}); err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if !called {
		t.Fatalf("replacement factory not used")
	}
}

func TestRegistryBuildRejectsMismatchedFactory(t *testing.T) {
	r := NewRegistry(NamespacesKind)
	r.RegisterFactory(PodsKind, true, NamespacedFactory(ServicesKind))
	if _, err := r.Build(&fakeClient{}, "a", Options{}); err == nil {
		t.Fatalf("expected error for factory returning a foreign kind")
	}

	r = NewRegistry(NamespacesKind)
	r.RegisterFactory(PodsKind, true, func(Client, string, Options) Provider { return nil })
	if _, err := r.Build(&fakeClient{}, "a", Options{}); err == nil {
		t.Fatalf("expected error for factory returning nil")
	}
}

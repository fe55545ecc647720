package resources

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

// Kind identifies a resource type by group, version and kind name.
// It is a plain comparable value and is used as a map key.
type Kind struct {
	Group   string
	Version string
	Kind    string
}

// NewKind returns the Kind for the given GroupVersionKind.
func NewKind(gvk schema.GroupVersionKind) Kind {
	return Kind{Group: gvk.Group, Version: gvk.Version, Kind: gvk.Kind}
}

// GroupVersionKind converts the kind back to its apimachinery form.
func (k Kind) GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{Group: k.Group, Version: k.Version, Kind: k.Kind}
}

// Empty reports whether no kind name is set.
func (k Kind) Empty() bool { return k.Kind == "" }

func (k Kind) String() string {
	if k.Group == "" {
		return k.Version + ", Kind=" + k.Kind
	}
	return k.Group + "/" + k.Version + ", Kind=" + k.Kind
}

// KindOf derives the kind of obj. Objects carrying TypeMeta (unstructured or
// decoded from the wire) are taken at face value; typed objects with empty
// TypeMeta are looked up in the client-go scheme.
func KindOf(obj client.Object) Kind {
	if obj == nil {
		return Kind{}
	}
	if gvk := obj.GetObjectKind().GroupVersionKind(); gvk.Kind != "" {
		return NewKind(gvk)
	}
	gvk, err := apiutil.GVKForObject(obj, scheme.Scheme)
	if err != nil {
		return Kind{}
	}
	return NewKind(gvk)
}

// Identity is the cache key of a resource.
type Identity struct {
	Kind      Kind
	Namespace string
	Name      string
}

// IdentityOf returns the identity of obj. It returns false if the kind or the
// name cannot be determined.
func IdentityOf(obj client.Object) (Identity, bool) {
	if obj == nil {
		return Identity{}, false
	}
	kind := KindOf(obj)
	if kind.Empty() || obj.GetName() == "" {
		return Identity{}, false
	}
	return Identity{Kind: kind, Namespace: obj.GetNamespace(), Name: obj.GetName()}, true
}

func (id Identity) String() string {
	if id.Namespace == "" {
		return id.Kind.Kind + " " + id.Name
	}
	return id.Kind.Kind + " " + id.Namespace + "/" + id.Name
}

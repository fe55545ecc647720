package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/sttts/kcmodel/pkg/resources"
	"github.com/sttts/kcmodel/pkg/watch"
)

// Client is the cluster capability a context is built on.
type Client interface {
	resources.Client

	Delete(ctx context.Context, kind resources.Kind, namespace, name string) error
	// Namespace returns the namespace of the active configuration, or "" if
	// none is set.
	Namespace() string
	SetNamespace(namespace string)
	IsOpenShift(ctx context.Context) (bool, error)
	Close() error
}

// Watch is the subscription manager used by a context.
type Watch interface {
	WatchAll(handles []*watch.Watchable)
	IgnoreAll(handles []*watch.Watchable)
	Close()
}

var _ Watch = &watch.ResourceWatch{}

// Options configures a context.
type Options struct {
	Resources resources.Options
	Watch     watch.Options
	Logger    logr.Logger

	// NewWatch creates the subscription manager. Defaults to watch.New.
	NewWatch func(handler watch.EventHandler, opts watch.Options) Watch
}

// ErrContextClosed is returned by operations on a closed context.
var ErrContextClosed = errors.New("context is closed")

// ActiveContext is the model of one cluster: the current namespace, one
// provider per kind and the watches keeping them fresh.
type ActiveContext struct {
	client     Client
	observable Observable
	registry   *resources.Registry
	openshift  bool
	opts       Options
	log        logr.Logger

	watch     Watch
	providers map[resources.Kind]resources.Provider
	order     []resources.Provider

	// nsMu serializes namespace switches and watch starts.
	nsMu sync.Mutex

	mu      sync.Mutex
	watched map[resources.Kind]struct{}
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

var _ watch.EventHandler = &ActiveContext{}

// NewKubernetesContext creates the model of a plain Kubernetes cluster.
func NewKubernetesContext(ctx context.Context, c Client, observable Observable, opts Options) (*ActiveContext, error) {
	return newContext(ctx, c, observable, resources.KubernetesRegistry(), false, opts)
}

// NewOpenShiftContext creates the model of an OpenShift cluster. It carries
// the Kubernetes kinds plus projects, image streams, routes and builds.
func NewOpenShiftContext(ctx context.Context, c Client, observable Observable, opts Options) (*ActiveContext, error) {
	return newContext(ctx, c, observable, resources.OpenShiftRegistry(), true, opts)
}

// NewContext asks the cluster whether it is OpenShift and creates the
// matching context.
func NewContext(ctx context.Context, c Client, observable Observable, opts Options) (*ActiveContext, error) {
	openshift, err := c.IsOpenShift(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to detect cluster flavor: %w", err)
	}
	if openshift {
		return NewOpenShiftContext(ctx, c, observable, opts)
	}
	return NewKubernetesContext(ctx, c, observable, opts)
}

func newContext(ctx context.Context, c Client, observable Observable, registry *resources.Registry, openshift bool, opts Options) (*ActiveContext, error) {
	if observable == nil {
		return nil, fmt.Errorf("observable is required")
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = ctrl.Log.WithName("model")
	}
	if opts.Resources.Logger.GetSink() == nil {
		opts.Resources.Logger = log.WithName("resources")
	}
	if opts.Watch.Logger.GetSink() == nil {
		opts.Watch.Logger = log.WithName("watch")
	}

	providers, err := registry.Build(c, c.Namespace(), opts.Resources)
	if err != nil {
		return nil, err
	}

	ac := &ActiveContext{
		client:     c,
		observable: observable,
		registry:   registry,
		openshift:  openshift,
		opts:       opts,
		log:        log,
		providers:  make(map[resources.Kind]resources.Provider, len(providers)),
		order:      providers,
		watched:    map[resources.Kind]struct{}{},
	}
	for _, p := range providers {
		ac.providers[p.Kind()] = p
	}
	if opts.NewWatch != nil {
		ac.watch = opts.NewWatch(ac, opts.Watch)
	} else {
		ac.watch = watch.New(ac, opts.Watch)
	}

	if c.Namespace() == "" {
		namespace, err := ac.firstNamespace(ctx)
		if err != nil {
			// the context stays usable, namespaced kinds are empty until a
			// namespace is chosen
			log.Error(err, "failed to determine current namespace")
		}
		if namespace != "" {
			c.SetNamespace(namespace)
			for _, p := range ac.namespaced() {
				p.SetNamespace(namespace)
			}
		}
	}
	log.V(1).Info("context created", "openshift", openshift, "namespace", c.Namespace(), "kinds", len(providers))
	return ac, nil
}

// IsOpenShift reports whether the OpenShift kinds are wired.
func (ac *ActiveContext) IsOpenShift() bool {
	return ac.openshift
}

// Registry returns the registry the providers were built from.
func (ac *ActiveContext) Registry() *resources.Registry {
	return ac.registry
}

// CurrentNamespace returns the namespace of the client configuration or, if
// none is set, the first namespace listed by the cluster.
func (ac *ActiveContext) CurrentNamespace(ctx context.Context) (string, error) {
	if namespace := ac.client.Namespace(); namespace != "" {
		return namespace, nil
	}
	return ac.firstNamespace(ctx)
}

func (ac *ActiveContext) firstNamespace(ctx context.Context) (string, error) {
	p, ok := ac.providers[ac.registry.NamespacesKind()]
	if !ok {
		return "", nil
	}
	objs, err := p.GetAllResources(ctx)
	if err != nil {
		return "", err
	}
	if len(objs) == 0 {
		return "", nil
	}
	return objs[0].GetName(), nil
}

// SetCurrentNamespace redirects every namespaced provider to name. The
// watches of the old namespace are stopped before those of the new one are
// opened. Only kinds that have been read are watched, so only their
// subscriptions move; the others list the new namespace on their first read.
// Setting the current namespace again is a no-op.
func (ac *ActiveContext) SetCurrentNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("namespace name must not be empty")
	}
	ac.nsMu.Lock()
	defer ac.nsMu.Unlock()
	if ac.isClosed() {
		return ErrContextClosed
	}

	old := ac.client.Namespace()
	if old == name {
		return nil
	}
	ac.log.V(1).Info("switching namespace", "from", old, "to", name)

	ac.watch.IgnoreAll(ac.watchedNamespacedHandles())
	ac.client.SetNamespace(name)
	for _, p := range ac.namespaced() {
		p.SetNamespace(name)
		p.Invalidate()
	}
	ac.watch.WatchAll(ac.watchedNamespacedHandles())
	ac.observable.FireCurrentNamespace(name)
	return nil
}

// GetResources returns the resources of kind in the current scope. Unknown
// kinds yield an empty result. A successful read starts watching the kind.
func (ac *ActiveContext) GetResources(ctx context.Context, kind resources.Kind) ([]client.Object, error) {
	p, ok := ac.providers[kind]
	if !ok {
		return []client.Object{}, nil
	}
	objs, err := p.GetAllResources(ctx)
	if err != nil {
		return nil, err
	}
	ac.startWatching(p)
	return objs, nil
}

func (ac *ActiveContext) startWatching(p resources.Provider) {
	ac.nsMu.Lock()
	defer ac.nsMu.Unlock()

	ac.mu.Lock()
	if ac.closed {
		ac.mu.Unlock()
		return
	}
	ac.watched[p.Kind()] = struct{}{}
	ac.mu.Unlock()

	if h := p.Watchable(); h != nil {
		ac.watch.WatchAll([]*watch.Watchable{h})
	}
}

// Add caches obj and notifies listeners if the cache changed.
func (ac *ActiveContext) Add(obj client.Object) bool {
	p := ac.providerFor(obj)
	if p == nil || !p.Add(obj) {
		return false
	}
	ac.observable.FireAdded(obj)
	return true
}

// Replace stores a newer copy of obj and notifies listeners about the
// modification if the cache changed.
func (ac *ActiveContext) Replace(obj client.Object) bool {
	p := ac.providerFor(obj)
	if p == nil {
		return false
	}
	changed, existed := p.Put(obj)
	if !changed {
		return false
	}
	if existed {
		ac.observable.FireModified(obj)
	} else {
		ac.observable.FireAdded(obj)
	}
	return true
}

// Remove evicts obj and notifies listeners if it was cached.
func (ac *ActiveContext) Remove(obj client.Object) bool {
	p := ac.providerFor(obj)
	if p == nil || !p.Remove(obj) {
		return false
	}
	ac.observable.FireRemoved(obj)
	return true
}

// Invalidate drops the caches of all providers.
func (ac *ActiveContext) Invalidate() {
	for _, p := range ac.order {
		p.Invalidate()
	}
}

// InvalidateResource evicts obj from the provider of its kind.
func (ac *ActiveContext) InvalidateResource(obj client.Object) {
	if p := ac.providerFor(obj); p != nil {
		p.InvalidateResource(obj)
	}
}

// Delete deletes obj in the cluster and removes it from the cache.
func (ac *ActiveContext) Delete(ctx context.Context, obj client.Object) error {
	if ac.isClosed() {
		return ErrContextClosed
	}
	kind := resources.KindOf(obj)
	if kind.Empty() || obj.GetName() == "" {
		return fmt.Errorf("cannot delete object without kind or name")
	}
	if timeout := ac.opts.Resources.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := ac.client.Delete(ctx, kind, obj.GetNamespace(), obj.GetName()); err != nil {
		return &resources.ClientError{Op: "delete", Kind: kind, Namespace: obj.GetNamespace(), Err: err}
	}
	ac.Remove(obj)
	return nil
}

// NamespaceProvider returns a provider group for the listed namespace name.
// The group has its own providers, independent of the current namespace.
func (ac *ActiveContext) NamespaceProvider(ctx context.Context, name string) (*NamespaceProvider, error) {
	kind := ac.registry.NamespacesKind()
	objs, err := ac.GetResources(ctx, kind)
	if err != nil {
		return nil, err
	}
	for _, obj := range objs {
		if obj.GetName() == name {
			return NewNamespaceProvider(ac.client, obj, ac.registry, ac.opts.Resources)
		}
	}
	return nil, apierrors.NewNotFound(schema.GroupResource{Group: kind.Group, Resource: "namespaces"}, name)
}

// Close stops all watches and then releases the client. It is safe to call
// more than once.
func (ac *ActiveContext) Close() error {
	ac.closeOnce.Do(func() {
		ac.mu.Lock()
		ac.closed = true
		ac.mu.Unlock()

		start := time.Now()
		ac.watch.Close()
		ac.closeErr = ac.client.Close()
		ac.log.V(1).Info("context closed", "duration", time.Since(start))
	})
	return ac.closeErr
}

// OnAdd implements watch.EventHandler.
func (ac *ActiveContext) OnAdd(obj client.Object) {
	ac.Add(obj)
}

// OnUpdate implements watch.EventHandler.
func (ac *ActiveContext) OnUpdate(obj client.Object) {
	ac.Replace(obj)
}

// OnDelete implements watch.EventHandler.
func (ac *ActiveContext) OnDelete(obj client.Object) {
	ac.Remove(obj)
}

// OnError implements watch.EventHandler. The provider behind a failed
// subscription is invalidated so that the next read lists again, unless its
// scope changed in the meantime.
func (ac *ActiveContext) OnError(w *watch.Watchable, err error) {
	if p, ok := ac.providers[resources.NewKind(w.GVK)]; ok && p.Watchable() == w {
		p.Invalidate()
	}
	ac.log.Error(err, "watch failed", "kind", w.GVK.String(), "namespace", w.Namespace)
	ac.observable.FireError(err)
}

func (ac *ActiveContext) providerFor(obj client.Object) resources.Provider {
	kind := resources.KindOf(obj)
	if kind.Empty() {
		return nil
	}
	return ac.providers[kind]
}

func (ac *ActiveContext) namespaced() []resources.NamespacedProvider {
	var out []resources.NamespacedProvider
	for _, p := range ac.order {
		if !p.Namespaced() {
			continue
		}
		if np, ok := p.(resources.NamespacedProvider); ok {
			out = append(out, np)
		}
	}
	return out
}

// watchedNamespacedHandles returns the handles of the namespaced kinds that
// have been read, in their current scope.
func (ac *ActiveContext) watchedNamespacedHandles() []*watch.Watchable {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	var out []*watch.Watchable
	for _, p := range ac.order {
		if !p.Namespaced() {
			continue
		}
		if _, ok := ac.watched[p.Kind()]; !ok {
			continue
		}
		if h := p.Watchable(); h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (ac *ActiveContext) isClosed() bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.closed
}

package resources

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/api/equality"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/sttts/kcmodel/pkg/watch"
)

// Client is the cluster capability a provider needs: listing and watching
// one kind, scoped to a namespace or, with an empty namespace, cluster-wide.
type Client interface {
	// List returns the objects and the resourceVersion of the list.
	List(ctx context.Context, kind Kind, namespace string) ([]client.Object, string, error)
	// Watch opens a subscription starting after resourceVersion. An empty
	// resourceVersion starts at the most recent state.
	Watch(ctx context.Context, kind Kind, namespace, resourceVersion string) (apiwatch.Interface, error)
}

// Provider owns the cached resources of exactly one kind.
type Provider interface {
	Kind() Kind
	Namespaced() bool

	// GetAllResources lists the kind on first use and serves copies from
	// the cache afterwards.
	GetAllResources(ctx context.Context) ([]client.Object, error)
	// Add inserts obj unless an identical copy is already cached. It returns
	// whether the cache changed.
	Add(obj client.Object) bool
	// Put is Add that also reports whether obj replaced a cached copy.
	Put(obj client.Object) (changed, existed bool)
	// Remove evicts obj by identity and returns whether it was cached.
	// While a list is in flight, Add, Put and Remove are recorded and applied
	// on top of the list result if they are newer than it; they report a
	// change.
	Remove(obj client.Object) bool
	// Has reports whether obj is cached.
	Has(obj client.Object) bool
	// Invalidate drops the cache; the next read lists again.
	Invalidate()
	// InvalidateResource evicts a single resource.
	InvalidateResource(obj client.Object)
	// Watchable returns the memoized handle for the provider's current scope,
	// or nil if there is nothing to watch.
	Watchable() *watch.Watchable
}

// NamespacedProvider is a Provider for a namespaced kind. Its scope can be
// redirected to another namespace.
type NamespacedProvider interface {
	Provider
	Namespace() string
	// SetNamespace changes the scope. A changed scope drops the cache and the
	// memoized watch handle.
	SetNamespace(namespace string)
}

// Options configures providers.
type Options struct {
	// RequestTimeout bounds list calls. Zero means the client's default.
	RequestTimeout time.Duration
	// DisableSizeMetric keeps the provider out of the cached resources gauge.
	// Providers that shadow another provider of the same kind set it.
	DisableSizeMetric bool
	Logger            logr.Logger
}

type entry struct {
	obj client.Object
	seq uint64
}

// pendingEvent is a change that arrived while a list was in flight.
type pendingEvent struct {
	obj     client.Object
	deleted bool
}

type listResult struct {
	items           []client.Object
	resourceVersion string
}

type provider struct {
	kind       Kind
	namespaced bool
	client     Client
	timeout    time.Duration
	metered    bool
	log        logr.Logger

	group singleflight.Group

	mu              sync.Mutex
	namespace       string
	cache           map[Identity]*entry
	loaded          bool
	seq             uint64
	generation      uint64
	resourceVersion string
	handle          *watch.Watchable

	// listing is set while the list of the current generation is in flight.
	listing bool
	pending []pendingEvent
}

var _ NamespacedProvider = &provider{}

// NewNamespaced returns a provider for a namespaced kind scoped to namespace.
func NewNamespaced(kind Kind, c Client, namespace string, opts Options) NamespacedProvider {
	p := newProvider(kind, c, true, opts)
	p.namespace = namespace
	return p
}

// NewClusterScoped returns a provider for a cluster-scoped kind.
func NewClusterScoped(kind Kind, c Client, opts Options) Provider {
	return newProvider(kind, c, false, opts)
}

func newProvider(kind Kind, c Client, namespaced bool, opts Options) *provider {
	log := opts.Logger
	if log.GetSink() == nil {
		log = ctrl.Log.WithName("resources")
	}
	return &provider{
		kind:       kind,
		namespaced: namespaced,
		client:     c,
		timeout:    opts.RequestTimeout,
		metered:    !opts.DisableSizeMetric,
		log:        log.WithValues("kind", kind.String()),
		cache:      map[Identity]*entry{},
	}
}

func (p *provider) Kind() Kind       { return p.kind }
func (p *provider) Namespaced() bool { return p.namespaced }

func (p *provider) Namespace() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.namespace
}

func (p *provider) SetNamespace(namespace string) {
	if !p.namespaced {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.namespace == namespace {
		return
	}
	p.namespace = namespace
	p.handle = nil
	p.resetLocked()
}

func (p *provider) GetAllResources(ctx context.Context) ([]client.Object, error) {
	p.mu.Lock()
	if p.loaded {
		out := p.snapshotLocked()
		p.mu.Unlock()
		return out, nil
	}
	gen, namespace := p.generation, p.namespace
	p.mu.Unlock()

	if p.namespaced && namespace == "" {
		return nil, nil
	}

	v, err, _ := p.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		p.mu.Lock()
		if p.loaded && p.generation == gen {
			// filled by a flight that finished after our check above
			items := p.snapshotLocked()
			p.mu.Unlock()
			return listResult{items: items}, nil
		}
		if p.generation == gen {
			p.listing = true
			p.pending = nil
		}
		p.mu.Unlock()

		res, err := p.list(ctx, namespace)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.generation != gen {
			// invalidated while listing, hand out the result without caching it
			return res, err
		}
		p.listing = false
		if err != nil {
			p.pending = nil
			return res, err
		}
		if !p.loaded {
			p.fillLocked(res)
			p.replayLocked()
		}
		return listResult{items: p.snapshotLocked()}, nil
	})
	if err != nil {
		return nil, err
	}
	// shared between the callers of one flight
	return copyAll(v.(listResult).items), nil
}

func (p *provider) list(ctx context.Context, namespace string) (listResult, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	listCalls.WithLabelValues(p.kind.Group, p.kind.Version, p.kind.Kind).Inc()
	items, rv, err := p.client.List(ctx, p.kind, namespace)
	if err != nil {
		listFailures.WithLabelValues(p.kind.Group, p.kind.Version, p.kind.Kind).Inc()
		p.log.Error(err, "failed to list", "namespace", namespace)
		return listResult{}, &ClientError{Op: "list", Kind: p.kind, Namespace: namespace, Err: err}
	}
	p.log.V(1).Info("listed", "namespace", namespace, "count", len(items), "resourceVersion", rv)
	return listResult{items: items, resourceVersion: rv}, nil
}

func (p *provider) fillLocked(res listResult) {
	p.cache = make(map[Identity]*entry, len(res.items))
	for _, obj := range res.items {
		if obj == nil || obj.GetName() == "" {
			continue
		}
		p.seq++
		id := Identity{Kind: p.kind, Namespace: obj.GetNamespace(), Name: obj.GetName()}
		p.cache[id] = &entry{obj: obj.DeepCopyObject().(client.Object), seq: p.seq}
	}
	p.resourceVersion = res.resourceVersion
	p.loaded = true
	p.recordSizeLocked()
}

func (p *provider) Add(obj client.Object) bool {
	changed, _ := p.Put(obj)
	return changed
}

func (p *provider) Put(obj client.Object) (changed, existed bool) {
	id, ok := p.identity(obj)
	if !ok {
		return false, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.namespaced && id.Namespace != p.namespace {
		return false, false
	}
	if !p.loaded {
		if !p.listing {
			// nothing listed yet, the next list carries it
			return false, false
		}
		p.pending = append(p.pending, pendingEvent{obj: obj.DeepCopyObject().(client.Object)})
		return true, false
	}
	if notNewer(obj.GetResourceVersion(), p.resourceVersion) {
		// already reflected by the list
		return false, false
	}
	if e, ok := p.cache[id]; ok {
		if sameObject(e.obj, obj) {
			return false, true
		}
		e.obj = obj.DeepCopyObject().(client.Object)
		return true, true
	}
	p.seq++
	p.cache[id] = &entry{obj: obj.DeepCopyObject().(client.Object), seq: p.seq}
	p.recordSizeLocked()
	return true, false
}

func (p *provider) Remove(obj client.Object) bool {
	id, ok := p.identity(obj)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded && p.listing {
		if p.namespaced && id.Namespace != p.namespace {
			return false
		}
		p.pending = append(p.pending, pendingEvent{obj: obj.DeepCopyObject().(client.Object), deleted: true})
		return true
	}
	if _, ok := p.cache[id]; !ok {
		return false
	}
	delete(p.cache, id)
	p.recordSizeLocked()
	return true
}

func (p *provider) Has(obj client.Object) bool {
	id, ok := p.identity(obj)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok = p.cache[id]
	return ok
}

func (p *provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *provider) InvalidateResource(obj client.Object) {
	id, ok := p.identity(obj)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, id)
	if p.loaded && len(p.cache) == 0 {
		p.resetLocked()
		return
	}
	p.recordSizeLocked()
}

func (p *provider) Watchable() *watch.Watchable {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.namespaced && p.namespace == "" {
		return nil
	}
	if p.handle == nil {
		namespace := p.namespace
		p.handle = watch.NewWatchable(p.kind.GroupVersionKind(), namespace, func(ctx context.Context) (apiwatch.Interface, error) {
			return p.openWatch(ctx, namespace)
		})
	}
	return p.handle
}

func (p *provider) openWatch(ctx context.Context, namespace string) (apiwatch.Interface, error) {
	p.mu.Lock()
	var rv string
	if p.loaded && p.namespace == namespace {
		rv = p.resourceVersion
	}
	p.mu.Unlock()

	w, err := p.client.Watch(ctx, p.kind, namespace, rv)
	if err != nil {
		return nil, &ClientError{Op: "watch", Kind: p.kind, Namespace: namespace, Err: err}
	}
	return w, nil
}

// replayLocked applies the changes recorded during the list that are newer
// than the list itself.
func (p *provider) replayLocked() {
	for _, ev := range p.pending {
		if notNewer(ev.obj.GetResourceVersion(), p.resourceVersion) {
			continue
		}
		id, ok := p.identity(ev.obj)
		if !ok {
			continue
		}
		if ev.deleted {
			delete(p.cache, id)
			continue
		}
		if e, ok := p.cache[id]; ok {
			e.obj = ev.obj
			continue
		}
		p.seq++
		p.cache[id] = &entry{obj: ev.obj, seq: p.seq}
	}
	if len(p.pending) > 0 {
		p.log.V(1).Info("applied changes received while listing", "count", len(p.pending))
	}
	p.pending = nil
	p.recordSizeLocked()
}

func (p *provider) resetLocked() {
	p.cache = map[Identity]*entry{}
	p.loaded = false
	p.listing = false
	p.pending = nil
	p.resourceVersion = ""
	p.generation++
	p.recordSizeLocked()
}

func (p *provider) identity(obj client.Object) (Identity, bool) {
	id, ok := IdentityOf(obj)
	if !ok || id.Kind != p.kind {
		return Identity{}, false
	}
	return id, true
}

func (p *provider) snapshotLocked() []client.Object {
	entries := make([]*entry, 0, len(p.cache))
	for _, e := range p.cache {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]client.Object, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.obj.DeepCopyObject().(client.Object))
	}
	return out
}

func (p *provider) recordSizeLocked() {
	if !p.metered {
		return
	}
	cachedResources.WithLabelValues(p.kind.Group, p.kind.Version, p.kind.Kind).Set(float64(len(p.cache)))
}

// sameObject reports whether b is the copy of a that is already cached.
// Resource versions decide when both carry one.
func sameObject(a, b client.Object) bool {
	rva, rvb := a.GetResourceVersion(), b.GetResourceVersion()
	if rva != "" && rvb != "" {
		return rva == rvb
	}
	return equality.Semantic.DeepEqual(a, b)
}

// notNewer reports whether rv is known to be at or before the list
// resourceVersion. Versions are only compared when both are integers, which
// is what etcd-backed API servers hand out.
func notNewer(rv, listRV string) bool {
	a, err := strconv.ParseUint(rv, 10, 64)
	if err != nil {
		return false
	}
	b, err := strconv.ParseUint(listRV, 10, 64)
	if err != nil {
		return false
	}
	return a <= b
}

func copyAll(objs []client.Object) []client.Object {
	out := make([]client.Object, 0, len(objs))
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		out = append(out, obj.DeepCopyObject().(client.Object))
	}
	return out
}

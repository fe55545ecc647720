package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/sttts/kcmodel/pkg/model"
	"github.com/sttts/kcmodel/pkg/resources"
)

// openShiftGroup is served by every OpenShift cluster and by no plain
// Kubernetes cluster.
const openShiftGroup = "project.openshift.io"

// Cluster talks to one API server through the dynamic client. Kinds are
// resolved to resources with a self-refreshing RESTMapper.
type Cluster struct {
	disco      discovery.CachedDiscoveryInterface
	baseMapper meta.ResettableRESTMapper
	dyn        dynamic.Interface
	log        logr.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	refresh   time.Duration
	closeOnce sync.Once

	mu        sync.RWMutex
	namespace string
}

var _ model.Client = &Cluster{}

// Option configures Cluster.
type Option func(*options)
type options struct {
	refresh   time.Duration
	namespace string
	log       logr.Logger
}

// WithRefreshInterval sets the discovery/RESTMapper refresh interval (default 30s).
func WithRefreshInterval(d time.Duration) Option { return func(o *options) { o.refresh = d } }

// WithNamespace sets the initial namespace, usually the one of the
// kubeconfig context.
func WithNamespace(ns string) Option { return func(o *options) { o.namespace = ns } }

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option { return func(o *options) { o.log = l } }

// New creates a Cluster for cfg and starts the discovery refresh loop. Call
// Close to stop it.
func New(cfg *rest.Config, opts ...Option) (*Cluster, error) {
	dc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return newCluster(dyn, dc, opts...), nil
}

func newCluster(dyn dynamic.Interface, dc discovery.DiscoveryInterface, opts ...Option) *Cluster {
	o := &options{refresh: 30 * time.Second}
	for _, fn := range opts {
		fn(o)
	}
	if o.log.GetSink() == nil {
		o.log = ctrl.Log.WithName("cluster")
	}
	if o.refresh <= 0 {
		o.refresh = 30 * time.Second
	}

	cached := memory.NewMemCacheClient(dc)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cluster{
		disco:      cached,
		baseMapper: restmapper.NewDeferredDiscoveryRESTMapper(cached),
		dyn:        dyn,
		log:        o.log,
		cancel:     cancel,
		done:       make(chan struct{}),
		refresh:    o.refresh,
		namespace:  o.namespace,
	}
	go c.refreshLoop(ctx)
	return c
}

func (c *Cluster) refreshLoop(ctx context.Context) {
	defer close(c.done)
	t := time.NewTicker(c.refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.resetDiscovery()
		}
	}
}

func (c *Cluster) resetDiscovery() {
	c.disco.Invalidate()
	c.baseMapper.Reset()
	c.log.V(2).Info("discovery reset")
}

// Namespace returns the active namespace, "" if none is configured.
func (c *Cluster) Namespace() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.namespace
}

// SetNamespace changes the active namespace.
func (c *Cluster) SetNamespace(ns string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.namespace = ns
}

// List lists kind in namespace, or in all namespaces for an empty namespace.
func (c *Cluster) List(ctx context.Context, kind resources.Kind, namespace string) ([]client.Object, string, error) {
	ri, err := c.resourceFor(kind, namespace)
	if err != nil {
		return nil, "", err
	}
	list, err := ri.List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", err
	}
	objs := make([]client.Object, 0, len(list.Items))
	for i := range list.Items {
		item := &list.Items[i]
		if item.GetKind() == "" {
			item.SetGroupVersionKind(kind.GroupVersionKind())
		}
		objs = append(objs, item)
	}
	return objs, list.GetResourceVersion(), nil
}

// Watch watches kind in namespace starting after resourceVersion.
func (c *Cluster) Watch(ctx context.Context, kind resources.Kind, namespace, resourceVersion string) (apiwatch.Interface, error) {
	ri, err := c.resourceFor(kind, namespace)
	if err != nil {
		return nil, err
	}
	return ri.Watch(ctx, metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: true,
	})
}

// Delete deletes the named object.
func (c *Cluster) Delete(ctx context.Context, kind resources.Kind, namespace, name string) error {
	ri, err := c.resourceFor(kind, namespace)
	if err != nil {
		return err
	}
	return ri.Delete(ctx, name, metav1.DeleteOptions{})
}

// IsOpenShift reports whether the server serves the OpenShift project API.
func (c *Cluster) IsOpenShift(ctx context.Context) (bool, error) {
	groups, err := c.disco.ServerGroups()
	if err != nil {
		return false, fmt.Errorf("failed to discover API groups: %w", err)
	}
	for _, g := range groups.Groups {
		if g.Name == openShiftGroup {
			return true, nil
		}
	}
	return false, nil
}

// Close stops the refresh loop. It is safe to call more than once.
func (c *Cluster) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

// RESTMapper exposes the cluster's RESTMapper.
func (c *Cluster) RESTMapper() meta.RESTMapper {
	return c.baseMapper
}

func (c *Cluster) resourceFor(kind resources.Kind, namespace string) (dynamic.ResourceInterface, error) {
	gk := schema.GroupKind{Group: kind.Group, Kind: kind.Kind}
	mapping, err := c.baseMapper.RESTMapping(gk, kind.Version)
	if meta.IsNoMatchError(err) {
		// the kind might have been installed after the last discovery
		c.resetDiscovery()
		mapping, err = c.baseMapper.RESTMapping(gk, kind.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", kind, err)
	}
	ri := c.dyn.Resource(mapping.Resource)
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace && namespace != "" {
		return ri.Namespace(namespace), nil
	}
	return ri, nil
}

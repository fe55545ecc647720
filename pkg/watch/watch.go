package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// State is the lifecycle state of a subscription for one Watchable.
type State int

const (
	Idle State = iota
	Starting
	Watching
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Watching:
		return "Watching"
	case Stopping:
		return "Stopping"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// OpenFunc opens a live subscription. The context governs the lifetime of
// the subscription, not only the open call.
type OpenFunc func(ctx context.Context) (apiwatch.Interface, error)

// Watchable is a lazily evaluated handle that opens a subscription for one
// kind in one scope. Handles are compared by pointer: two handles for the
// same kind and namespace are distinct subscriptions unless they are the
// same pointer.
type Watchable struct {
	GVK       schema.GroupVersionKind
	Namespace string
	open      OpenFunc
}

// NewWatchable returns a handle for the given kind and namespace. An empty
// namespace means cluster scope.
func NewWatchable(gvk schema.GroupVersionKind, namespace string, open OpenFunc) *Watchable {
	return &Watchable{GVK: gvk, Namespace: namespace, open: open}
}

// Open opens the subscription.
func (w *Watchable) Open(ctx context.Context) (apiwatch.Interface, error) {
	if w.open == nil {
		return nil, fmt.Errorf("watchable %s has no open function", w)
	}
	return w.open(ctx)
}

func (w *Watchable) String() string {
	if w.Namespace == "" {
		return w.GVK.Kind
	}
	return w.GVK.Kind + " in " + w.Namespace
}

// WatchSubscriptionError reports a subscription that could not be opened or
// that terminated abnormally.
type WatchSubscriptionError struct {
	GVK       schema.GroupVersionKind
	Namespace string
	Err       error
}

func (e *WatchSubscriptionError) Error() string {
	if e.Namespace == "" {
		return fmt.Sprintf("watch %s: %v", e.GVK.Kind, e.Err)
	}
	return fmt.Sprintf("watch %s in namespace %q: %v", e.GVK.Kind, e.Namespace, e.Err)
}

func (e *WatchSubscriptionError) Unwrap() error { return e.Err }

// ErrWatchClosed is wrapped when the server ends a subscription that was not
// ignored.
var ErrWatchClosed = errors.New("watch channel closed")

// EventHandler receives the events of all subscriptions. Calls for one
// subscription are sequential and in arrival order; calls for different
// subscriptions may interleave.
type EventHandler interface {
	OnAdd(obj client.Object)
	OnUpdate(obj client.Object)
	OnDelete(obj client.Object)
	OnError(w *Watchable, err error)
}

// Options configures a ResourceWatch.
type Options struct {
	// OpenTimeout bounds a single open call. Zero means no bound.
	OpenTimeout time.Duration
	// Parallelism limits concurrent open calls in WatchAll. Zero or less means 1.
	Parallelism int
	Logger      logr.Logger
}

type subscription struct {
	state  State
	w      apiwatch.Interface
	cancel context.CancelFunc
	done   chan struct{}
}

// ResourceWatch keeps at most one open subscription per Watchable and
// forwards events to a single EventHandler.
type ResourceWatch struct {
	handler EventHandler
	opts    Options
	log     logr.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[*Watchable]*subscription
	closed bool
}

// New creates a ResourceWatch delivering to handler.
func New(handler EventHandler, opts Options) *ResourceWatch {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = ctrl.Log.WithName("watch")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ResourceWatch{
		handler: handler,
		opts:    opts,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		subs:    map[*Watchable]*subscription{},
	}
}

// State returns the current state of w.
func (rw *ResourceWatch) State(w *Watchable) State {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if s, ok := rw.subs[w]; ok {
		return s.state
	}
	return Idle
}

// Watched returns the handles that currently have an open subscription.
func (rw *ResourceWatch) Watched() []*Watchable {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	var out []*Watchable
	for w, s := range rw.subs {
		if s.state == Watching {
			out = append(out, w)
		}
	}
	return out
}

// WatchAll opens a subscription for every Idle handle. Handles that are
// already starting or watching are left alone. A failing handle returns to
// Idle and is reported through the EventHandler; the others proceed.
func (rw *ResourceWatch) WatchAll(handles []*Watchable) {
	var toOpen []*Watchable
	rw.mu.Lock()
	if rw.closed {
		rw.mu.Unlock()
		return
	}
	for _, w := range handles {
		if w == nil {
			continue
		}
		if _, ok := rw.subs[w]; ok {
			continue
		}
		rw.subs[w] = &subscription{state: Starting, done: make(chan struct{})}
		toOpen = append(toOpen, w)
	}
	rw.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(rw.opts.Parallelism)
	for _, w := range toOpen {
		w := w
		g.Go(func() error {
			rw.start(w)
			return nil
		})
	}
	_ = g.Wait()
}

func (rw *ResourceWatch) start(w *Watchable) {
	rw.mu.Lock()
	sub, ok := rw.subs[w]
	if !ok {
		rw.mu.Unlock()
		return
	}
	if sub.state != Starting || rw.closed {
		// ignored before the open started
		delete(rw.subs, w)
		close(sub.done)
		rw.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(rw.ctx)
	sub.cancel = cancel
	rw.mu.Unlock()

	var timedOut atomic.Bool
	var timer *time.Timer
	if rw.opts.OpenTimeout > 0 {
		timer = time.AfterFunc(rw.opts.OpenTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}
	iface, err := w.Open(ctx)
	if timer != nil && !timer.Stop() && err == nil {
		// the timer fired after the open call returned and killed the subscription
		iface.Stop()
		err = context.DeadlineExceeded
	}
	if err == nil && iface == nil {
		err = fmt.Errorf("open returned no watch")
	}
	if err != nil && timedOut.Load() {
		err = fmt.Errorf("open timed out after %s: %w", rw.opts.OpenTimeout, err)
	}

	rw.mu.Lock()
	if err != nil {
		ignored := rw.closed || sub.state != Starting
		delete(rw.subs, w)
		close(sub.done)
		rw.mu.Unlock()
		cancel()
		if ignored {
			return
		}
		watchFailures.WithLabelValues(w.GVK.Group, w.GVK.Version, w.GVK.Kind).Inc()
		rw.log.Error(err, "failed to open watch", "kind", w.GVK.String(), "namespace", w.Namespace)
		rw.handler.OnError(w, &WatchSubscriptionError{GVK: w.GVK, Namespace: w.Namespace, Err: err})
		return
	}
	if rw.closed || sub.state != Starting {
		// closed or ignored while opening
		delete(rw.subs, w)
		close(sub.done)
		rw.mu.Unlock()
		iface.Stop()
		cancel()
		return
	}
	sub.state = Watching
	sub.w = iface
	rw.mu.Unlock()

	openSubscriptions.Inc()
	rw.log.V(1).Info("watching", "kind", w.GVK.String(), "namespace", w.Namespace)
	go rw.deliver(w, sub)
}

func (rw *ResourceWatch) deliver(w *Watchable, sub *subscription) {
	defer close(sub.done)
	defer openSubscriptions.Dec()

	var failure error
	ch := sub.w.ResultChan()
loop:
	for {
		ev, ok := <-ch
		if !ok {
			failure = ErrWatchClosed
			break
		}
		watchEvents.WithLabelValues(w.GVK.Kind, string(ev.Type)).Inc()
		switch ev.Type {
		case apiwatch.Bookmark:
			continue
		case apiwatch.Error:
			failure = errorFromEvent(ev)
			break loop
		}
		obj, isObject := ev.Object.(client.Object)
		if !isObject {
			rw.log.Info("ignoring watch event without object metadata", "kind", w.GVK.String(), "type", ev.Type)
			continue
		}
		switch ev.Type {
		case apiwatch.Added:
			rw.handler.OnAdd(obj)
		case apiwatch.Modified:
			rw.handler.OnUpdate(obj)
		case apiwatch.Deleted:
			rw.handler.OnDelete(obj)
		}
	}

	rw.mu.Lock()
	stopping := sub.state == Stopping || rw.closed
	if !stopping {
		delete(rw.subs, w)
	}
	rw.mu.Unlock()
	if stopping {
		return
	}

	sub.w.Stop()
	sub.cancel()
	watchFailures.WithLabelValues(w.GVK.Group, w.GVK.Version, w.GVK.Kind).Inc()
	rw.log.Info("watch ended", "kind", w.GVK.String(), "namespace", w.Namespace, "reason", failure.Error())
	rw.handler.OnError(w, &WatchSubscriptionError{GVK: w.GVK, Namespace: w.Namespace, Err: failure})
}

func errorFromEvent(ev apiwatch.Event) error {
	if status, ok := ev.Object.(*metav1.Status); ok {
		return apierrors.FromObject(status)
	}
	return fmt.Errorf("watch error event: %v", ev.Object)
}

// IgnoreAll stops the subscriptions of the given handles, including those
// still being opened, and waits for their delivery to end. Idle handles are
// a no-op.
func (rw *ResourceWatch) IgnoreAll(handles []*Watchable) {
	var stopping []*subscription
	var keys []*Watchable
	rw.mu.Lock()
	for _, w := range handles {
		if w == nil {
			continue
		}
		sub, ok := rw.subs[w]
		if !ok || sub.state == Stopping {
			continue
		}
		sub.state = Stopping
		if sub.cancel != nil {
			sub.cancel()
		}
		stopping = append(stopping, sub)
		keys = append(keys, w)
	}
	rw.mu.Unlock()

	for i, sub := range stopping {
		if sub.w != nil {
			sub.w.Stop()
		}
		<-sub.done
		rw.log.V(1).Info("stopped watching", "kind", keys[i].GVK.String(), "namespace", keys[i].Namespace)
	}

	rw.mu.Lock()
	for i, w := range keys {
		if rw.subs[w] == stopping[i] {
			delete(rw.subs, w)
		}
	}
	rw.mu.Unlock()
}

// Close stops every subscription, including those still being opened, and
// waits for their delivery to end. Further WatchAll calls are ignored.
func (rw *ResourceWatch) Close() {
	rw.mu.Lock()
	if rw.closed {
		rw.mu.Unlock()
		return
	}
	rw.closed = true
	subs := make([]*subscription, 0, len(rw.subs))
	for _, sub := range rw.subs {
		if sub.state == Watching {
			sub.state = Stopping
		}
		subs = append(subs, sub)
	}
	rw.mu.Unlock()

	rw.cancel()
	for _, sub := range subs {
		if sub.w != nil {
			sub.w.Stop()
		}
		<-sub.done
	}

	rw.mu.Lock()
	rw.subs = map[*Watchable]*subscription{}
	rw.mu.Unlock()
}

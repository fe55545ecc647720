package model

import (
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Observable is the publish point the context notifies about model changes.
// Fire methods must not block the caller.
type Observable interface {
	FireAdded(obj client.Object)
	FireRemoved(obj client.Object)
	FireModified(obj client.Object)
	FireCurrentNamespace(name string)
	FireError(err error)
}

// Listener is notified about model changes.
type Listener interface {
	Added(obj client.Object)
	Removed(obj client.Object)
	Modified(obj client.Object)
	CurrentNamespaceChanged(name string)
	Error(err error)
}

// ListenerFuncs adapts functions to a Listener. Nil functions are skipped.
type ListenerFuncs struct {
	AddFunc              func(obj client.Object)
	RemoveFunc           func(obj client.Object)
	ModifyFunc           func(obj client.Object)
	CurrentNamespaceFunc func(name string)
	ErrorFunc            func(err error)
}

var _ Listener = ListenerFuncs{}

func (f ListenerFuncs) Added(obj client.Object) {
	if f.AddFunc != nil {
		f.AddFunc(obj)
	}
}

func (f ListenerFuncs) Removed(obj client.Object) {
	if f.RemoveFunc != nil {
		f.RemoveFunc(obj)
	}
}

func (f ListenerFuncs) Modified(obj client.Object) {
	if f.ModifyFunc != nil {
		f.ModifyFunc(obj)
	}
}

func (f ListenerFuncs) CurrentNamespaceChanged(name string) {
	if f.CurrentNamespaceFunc != nil {
		f.CurrentNamespaceFunc(name)
	}
}

func (f ListenerFuncs) Error(err error) {
	if f.ErrorFunc != nil {
		f.ErrorFunc(err)
	}
}

type notification func(l Listener)

type listenerEntry struct {
	l Listener
}

// ModelChangeObservable queues notifications and delivers them in order on
// its own goroutine, so firing never waits for listeners.
type ModelChangeObservable struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []notification
	listeners []*listenerEntry
	enqueued  uint64
	delivered uint64
	closed    bool
	done      chan struct{}
}

var _ Observable = &ModelChangeObservable{}

// NewModelChangeObservable starts the dispatcher. Call Close to stop it.
func NewModelChangeObservable() *ModelChangeObservable {
	o := &ModelChangeObservable{done: make(chan struct{})}
	o.cond = sync.NewCond(&o.mu)
	go o.dispatch()
	return o
}

// AddListener registers l and returns a function removing it again.
func (o *ModelChangeObservable) AddListener(l Listener) (remove func()) {
	e := &listenerEntry{l: l}
	o.mu.Lock()
	o.listeners = append(o.listeners, e)
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, other := range o.listeners {
			if other == e {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

func (o *ModelChangeObservable) FireAdded(obj client.Object) {
	o.enqueue(func(l Listener) { l.Added(obj) })
}

func (o *ModelChangeObservable) FireRemoved(obj client.Object) {
	o.enqueue(func(l Listener) { l.Removed(obj) })
}

func (o *ModelChangeObservable) FireModified(obj client.Object) {
	o.enqueue(func(l Listener) { l.Modified(obj) })
}

func (o *ModelChangeObservable) FireCurrentNamespace(name string) {
	o.enqueue(func(l Listener) { l.CurrentNamespaceChanged(name) })
}

func (o *ModelChangeObservable) FireError(err error) {
	o.enqueue(func(l Listener) { l.Error(err) })
}

func (o *ModelChangeObservable) enqueue(n notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.queue = append(o.queue, n)
	o.enqueued++
	o.cond.Broadcast()
}

func (o *ModelChangeObservable) dispatch() {
	defer close(o.done)
	o.mu.Lock()
	for {
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.queue) == 0 && o.closed {
			o.mu.Unlock()
			return
		}
		n := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]
		listeners := make([]*listenerEntry, len(o.listeners))
		copy(listeners, o.listeners)
		o.mu.Unlock()

		for _, e := range listeners {
			n(e.l)
		}

		o.mu.Lock()
		o.delivered++
		o.cond.Broadcast()
	}
}

// Flush blocks until every notification fired before the call has been
// delivered. It must not be called from a listener, which would wait for its
// own delivery.
func (o *ModelChangeObservable) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	target := o.enqueued
	for o.delivered < target {
		o.cond.Wait()
	}
}

// Close delivers what is queued and stops the dispatcher. Later fires are
// dropped.
func (o *ModelChangeObservable) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return
	}
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
	<-o.done
}

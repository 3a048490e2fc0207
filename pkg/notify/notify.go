// Copyright © 2018 One Concern

// Package notify dispatches change events to listeners after a batch committed.
//
// Dispatch is synchronous. Listeners are best effort: a failing or panicking listener is logged and
// counted, and never fails the update which already committed.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oneconcern/refdb/pkg/metrics"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// Listener consumes change events
type Listener interface {
	Name() string
	OnChange(context.Context, model.ChangeEvent) error
}

type funcListener struct {
	name string
	fn   func(context.Context, model.ChangeEvent) error
}

func (f funcListener) Name() string {
	return f.name
}

func (f funcListener) OnChange(ctx context.Context, ev model.ChangeEvent) error {
	return f.fn(ctx, ev)
}

// Func builds a listener from a function
func Func(name string, fn func(context.Context, model.ChangeEvent) error) Listener {
	return funcListener{name: name, fn: fn}
}

// NewEvent builds a change event with a new K-sortable id
func NewEvent(repository string, changes []model.RefChange, actor model.Contributor, when time.Time) model.ChangeEvent {
	id, err := ksuid.NewRandomWithTime(when)
	if err != nil {
		id = ksuid.New()
	}
	return model.ChangeEvent{
		ID:         id.String(),
		Repository: repository,
		Changes:    changes,
		Actor:      actor,
		Timestamp:  when.UTC(),
	}
}

type subscription struct {
	id uint64
	Listener
}

// Notifier dispatches events to subscribed listeners
type Notifier struct {
	mx        sync.RWMutex
	nextID    uint64
	listeners []subscription
	l         *zap.Logger
	metrics   *metrics.Metrics
}

// New notifier
func New(opts ...Option) *Notifier {
	n := &Notifier{
		l: zap.NewNop(),
	}
	for _, apply := range opts {
		apply(n)
	}
	return n
}

// Subscribe a listener. The returned function unsubscribes it.
func (n *Notifier) Subscribe(listener Listener) func() {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, subscription{id: id, Listener: listener})

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mx.Lock()
			defer n.mx.Unlock()
			for i, sub := range n.listeners {
				if sub.id == id {
					n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Listeners currently subscribed
func (n *Notifier) Listeners() []string {
	n.mx.RLock()
	defer n.mx.RUnlock()
	names := make([]string, 0, len(n.listeners))
	for _, l := range n.listeners {
		names = append(names, l.Name())
	}
	return names
}

// Notify dispatches an event to all listeners, in subscription order, and returns the number of
// listeners which failed
func (n *Notifier) Notify(ctx context.Context, ev model.ChangeEvent) int {
	n.mx.RLock()
	listeners := make([]subscription, len(n.listeners))
	copy(listeners, n.listeners)
	n.mx.RUnlock()

	n.metrics.Notified()
	failed := 0
	for _, listener := range listeners {
		if err := n.dispatch(ctx, listener, ev); err != nil {
			failed++
			n.metrics.ListenerFailed(listener.Name())
			n.l.Warn("change listener failed",
				zap.String("listener", listener.Name()),
				zap.String("event", ev.ID),
				zap.Strings("refs", ev.Refs()),
				zap.Error(err),
			)
		}
	}
	return failed
}

func (n *Notifier) dispatch(ctx context.Context, listener Listener, ev model.ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return listener.OnChange(ctx, ev)
}

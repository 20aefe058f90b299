package facade

import (
	"sync"
	"time"

	"github.com/asynxgo/asynx/pkg/broker"
	"github.com/asynxgo/asynx/pkg/store"
	"github.com/asynxgo/asynx/pkg/taskqueue"
)

// Registry lazily builds and caches one TaskQueue per (app, queue)
// namespace, so the facade and the worker process share the exact same
// engine instance semantics without either having to know the full set
// of queues in advance.
type Registry struct {
	store  *store.Store
	broker *broker.Broker
	loc    *time.Location

	mu     sync.Mutex
	queues map[string]*taskqueue.TaskQueue
}

// NewRegistry builds an empty registry over a shared store and broker.
func NewRegistry(st *store.Store, br *broker.Broker, loc *time.Location) *Registry {
	return &Registry{
		store:  st,
		broker: br,
		loc:    loc,
		queues: make(map[string]*taskqueue.TaskQueue),
	}
}

// Get returns the engine for (app, queue), constructing it on first use.
func (reg *Registry) Get(app, queue string) *taskqueue.TaskQueue {
	key := app + "\x00" + queue
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if tq, ok := reg.queues[key]; ok {
		return tq
	}
	tq := taskqueue.New(app, queue, reg.store, reg.broker, reg.loc)
	reg.queues[key] = tq
	return tq
}

package task

import (
	"sort"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Registry allocates handles and maps names and handles to task records.
// It is safe for concurrent use; writes happen during script evaluation and
// reads during execution. The handle map is append-only for a run.
type Registry struct {
	nextID atomic.Uint64

	mu    sync.RWMutex
	tasks map[Handle]Task
	named map[string]Handle
}

// NewRegistry returns an empty registry. The first issued handle is 1.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[Handle]Task),
		named: make(map[string]Handle),
	}
}

// NextID issues a fresh handle.
func (r *Registry) NextID() Handle {
	return Handle(r.nextID.Add(1))
}

// Register inserts a task record. A handle, once issued, never changes
// record; re-registering a handle is a programming error and is ignored.
func (r *Registry) Register(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		return
	}
	r.tasks[t.ID] = t
}

// RegisterName binds name to handle. The first binding wins: a name already
// bound stays bound to its original handle.
func (r *Registry) RegisterName(h Handle, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.named[name]; ok {
		return
	}
	log.WithFields(log.Fields{"name": name, "handle": h}).Debug("registered task name")
	r.named[name] = h
}

// TaskByHandle looks up the record for h.
func (r *Registry) TaskByHandle(h Handle) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var t, ok = r.tasks[h]
	return t, ok
}

// TaskByName looks up the record bound to name.
func (r *Registry) TaskByName(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var h, ok = r.named[name]
	if !ok {
		return Task{}, false
	}
	var t, found = r.tasks[h]
	return t, found
}

// AllTasks returns every registered task, ordered by handle.
func (r *Registry) AllTasks() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out = make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NamedTask pairs a script-global name with the task bound to it.
type NamedTask struct {
	Name string
	Task Task
}

// NamedTasks returns every bound name with its task, sorted by name.
func (r *Registry) NamedTasks() []NamedTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out = make([]NamedTask, 0, len(r.named))
	for name, h := range r.named {
		out = append(out, NamedTask{Name: name, Task: r.tasks[h]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package task

import (
	log "github.com/sirupsen/logrus"

	"github.com/hpgtool/hpg/internal/hpgerr"
	"github.com/hpgtool/hpg/internal/tracker"
)

// Callbacks is the host's table of task bodies, keyed by handle. Call runs
// the body for h: a non-nil Result is the task's explicit outcome, a nil
// Result with nil error means the body returned nothing (success), and a
// non-nil error is a raised failure whose text includes the traceback.
type Callbacks interface {
	Has(h Handle) bool
	Call(h Handle) (*Result, error)
}

// Executor runs a safe ordering of tasks one at a time, enforcing
// parent-failure propagation and reporting progress through the tracker.
type Executor struct {
	Graph    *Graph
	Registry *Registry
	Events   *tracker.Source
}

// Run executes ordering. Each task gets a TaskStart followed by exactly one
// of TaskComplete, TaskSkip, or TaskFail. A task with any Incomplete parent
// is recorded Incomplete and skipped without invoking its callback. A
// raised callback error fails the task and stops the batch. The returned
// map holds every recorded result; the error is hpgerr.ErrSkippedTask when
// any result is Incomplete.
func (e *Executor) Run(ordering []Handle, cbs Callbacks) (map[Handle]Result, error) {
	var results = make(map[Handle]Result, len(ordering))

	e.Events.BatchStart(len(ordering))
	for _, h := range ordering {
		var t, ok = e.Registry.TaskByHandle(h)
		if !ok {
			return results, hpgerr.New(hpgerr.Task, "Unknown task %d", h)
		}
		e.Events.TaskStart(t.Description)

		var parentFailed = false
		for _, p := range e.Graph.DirectParents(h) {
			// Ordering guarantees parents ran first.
			if results[p].IsIncomplete() {
				parentFailed = true
				break
			}
		}
		if parentFailed {
			results[h] = Incompleted("")
			e.Events.TaskSkip()
			continue
		}

		if !cbs.Has(h) {
			results[h] = Successful()
			e.Events.TaskComplete()
			continue
		}

		var res, err = cbs.Call(h)
		if err != nil {
			e.Events.Println("%s", err)
			e.Events.TaskFail()
			results[h] = Incompleted("Error")
			log.WithFields(log.Fields{"task": t.Description, "error": err}).Debug("task raised")
			break
		}
		if res != nil {
			results[h] = *res
			if res.IsIncomplete() {
				e.Events.TaskSkip()
			} else {
				e.Events.TaskComplete()
			}
			continue
		}
		results[h] = Successful()
		e.Events.TaskComplete()
	}

	for _, r := range results {
		if r.IsIncomplete() {
			e.Events.BatchFail()
			return results, hpgerr.ErrSkippedTask
		}
	}
	e.Events.BatchSuccess()
	return results, nil
}

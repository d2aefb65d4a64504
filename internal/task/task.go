// Package task holds the task model: handles, the registry populated during
// script evaluation, the dependency DAG built from it, the executor that
// runs a safe ordering, and the variables bag scripts read from.
package task

// Handle is the opaque process-unique identity of a registered task.
// Handles are monotonically increasing and cheap to copy and hash.
type Handle uint64

// Task is an immutable task record. Description is user-facing and doubles
// as the default name unless the script binds the task to a global.
type Task struct {
	ID          Handle
	Description string
	Deps        []Handle
}

// ResultCode classifies a task outcome.
type ResultCode uint8

const (
	// Success marks a task that ran (or had nothing to run).
	Success ResultCode = iota
	// Incomplete marks a task that failed, was cancelled, or was skipped
	// because a dependency did not complete.
	Incomplete
)

// Result is the recorded outcome of one task within a batch.
type Result struct {
	Code   ResultCode
	Reason string
}

// Succeeded reports whether the task completed.
func (r Result) Succeeded() bool { return r.Code == Success }

// IsIncomplete reports whether the task failed or was skipped.
func (r Result) IsIncomplete() bool { return r.Code == Incomplete }

// Successful is the Result of a completed task.
func Successful() Result { return Result{Code: Success} }

// Incompleted returns an Incomplete result with an optional reason.
func Incompleted(reason string) Result { return Result{Code: Incomplete, Reason: reason} }

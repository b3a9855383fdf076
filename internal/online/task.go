package online

import (
	"time"

	"github.com/google/uuid"

	"online-subsystem/internal/platform"
)

// AsyncTask is one in-flight SDK operation. A task sits in the queue only
// while its SDK call is issued and it has not been finalized.
type AsyncTask interface {
	ID() uuid.UUID
	Name() string
	// HasCompleted polls the completion handle.
	HasCompleted() bool
	CompletionCode() platform.Result
	// ProcessAsyncResults finalizes results into the subsystem. Returning
	// false keeps the task queued, usually because it issued a follow-up call.
	ProcessAsyncResults(s *Subsystem) bool
	// Delegate is fired with the completion code once the task is done. It
	// may be nil.
	Delegate() *CompletionSlot
	Data() TaskData
	Queued() time.Time

	result() AsyncResult
	overlapped() *platform.Overlapped
}

// deleter is implemented by tasks that release state when removed.
type deleter interface {
	onDelete(s *Subsystem)
}

// baseTask carries the completion handle, the owned data and the delegate.
type baseTask struct {
	id       uuid.UUID
	name     string
	ov       platform.Overlapped
	delegate *CompletionSlot
	data     TaskData
	queued   time.Time
	user     int

	code    platform.Result
	codeSet bool
}

func newBaseTask(name string, delegate *CompletionSlot, data TaskData) baseTask {
	return baseTask{
		id:       uuid.New(),
		name:     name,
		delegate: delegate,
		data:     data,
		queued:   time.Now(),
		user:     -1,
	}
}

func (t *baseTask) ID() uuid.UUID                    { return t.id }
func (t *baseTask) Name() string                     { return t.name }
func (t *baseTask) HasCompleted() bool               { return t.ov.IsComplete() }
func (t *baseTask) Delegate() *CompletionSlot        { return t.delegate }
func (t *baseTask) Data() TaskData                   { return t.data }
func (t *baseTask) Queued() time.Time                { return t.queued }
func (t *baseTask) overlapped() *platform.Overlapped { return &t.ov }

// CompletionCode returns the handle's code unless a finalizer overrode it.
func (t *baseTask) CompletionCode() platform.Result {
	if t.codeSet {
		return t.code
	}
	return t.ov.Result()
}

// ProcessAsyncResults is done on first completion.
func (t *baseTask) ProcessAsyncResults(*Subsystem) bool {
	return true
}

func (t *baseTask) setCode(r platform.Result) {
	t.code, t.codeSet = r, true
}

// reissue zeroes the handle for a follow-up call on the same task.
func (t *baseTask) reissue() *platform.Overlapped {
	t.ov.Reset()
	t.codeSet = false
	return &t.ov
}

func (t *baseTask) result() AsyncResult {
	return AsyncResult{Task: t.name, Code: t.CompletionCode(), User: t.user}
}

// simpleTask runs an optional finalizer and is always done.
type simpleTask struct {
	baseTask
	finish func(s *Subsystem, code platform.Result)
}

func newSimpleTask(name string, delegate *CompletionSlot, finish func(*Subsystem, platform.Result)) *simpleTask {
	return &simpleTask{baseTask: newBaseTask(name, delegate, nil), finish: finish}
}

func (t *simpleTask) ProcessAsyncResults(s *Subsystem) bool {
	if t.finish != nil {
		t.finish(s, t.CompletionCode())
	}
	return true
}

// TaskInfo is a snapshot of a queued task for diagnostics.
type TaskInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind,omitempty"`
	Completed bool      `json:"completed"`
	Queued    time.Time `json:"queued"`
}

func describeTask(t AsyncTask) TaskInfo {
	info := TaskInfo{
		ID:        t.ID().String(),
		Name:      t.Name(),
		Completed: t.HasCompleted(),
		Queued:    t.Queued(),
	}
	if d := t.Data(); d != nil {
		info.Kind = d.Kind()
	}
	return info
}

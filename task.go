package taskcache

import (
	"reflect"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusNone       Status = "null"
	StatusDraft      Status = "draft"
	StatusInit       Status = "init"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// IsTerminal reports whether s ends the task (completed, done or error).
// Terminal saves are written through to the durable store.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDone, StatusError:
		return true
	}
	return false
}

func TerminalStatuses() []Status {
	return []Status{StatusCompleted, StatusDone, StatusError}
}

// LogRecord is one entry of a task's append-only log.
type LogRecord struct {
	ReportedAt time.Time      `json:"reported_at" msgpack:"reported_at" cbor:"reported_at"`
	Message    string         `json:"message" msgpack:"message" cbor:"message"`
	Status     Status         `json:"task_status" msgpack:"task_status" cbor:"task_status"`
	Duration   int            `json:"duration" msgpack:"duration" cbor:"duration"`
	Data       map[string]any `json:"data,omitempty" msgpack:"data,omitempty" cbor:"data,omitempty"`
}

// Equal compares every field, the timestamp included.
func (r LogRecord) Equal(o LogRecord) bool {
	return r.ReportedAt.Equal(o.ReportedAt) &&
		r.Message == o.Message &&
		r.Status == o.Status &&
		r.Duration == o.Duration &&
		(len(r.Data) == 0 && len(o.Data) == 0 || reflect.DeepEqual(r.Data, o.Data))
}

// TaskReference points at another task by id and type name.
type TaskReference struct {
	TaskID   string `json:"task_id" msgpack:"task_id" cbor:"task_id"`
	TaskType string `json:"task_type" msgpack:"task_type" cbor:"task_type"`
}

// Mode says how the items of a ReferenceList are started.
type Mode string

const (
	Serial   Mode = "serial"
	Parallel Mode = "parallel"
)

// ReferenceNode is either a single reference or a nested list.
type ReferenceNode struct {
	Ref  *TaskReference `json:"ref,omitempty" msgpack:"ref,omitempty" cbor:"ref,omitempty"`
	List *ReferenceList `json:"list,omitempty" msgpack:"list,omitempty" cbor:"list,omitempty"`
}

// ReferenceList is an ordered tree of references. Empty Mode means serial.
type ReferenceList struct {
	Items []ReferenceNode `json:"items" msgpack:"items" cbor:"items"`
	Mode  Mode            `json:"mode,omitempty" msgpack:"mode,omitempty" cbor:"mode,omitempty"`
}

func (l *ReferenceList) parallel() bool { return l.Mode == Parallel }

// TaskState is the task part of an entity. Embed it by value next to Base and
// initialize it with NewTaskState.
type TaskState struct {
	Status     Status         `json:"task_status" msgpack:"task_status" cbor:"task_status"`
	Progress   int            `json:"task_progress" msgpack:"task_progress" cbor:"task_progress"`
	Report     string         `json:"task_report,omitempty" msgpack:"task_report,omitempty" cbor:"task_report,omitempty"`
	Logs       []LogRecord    `json:"task_logs" msgpack:"task_logs" cbor:"task_logs"`
	References *ReferenceList `json:"task_references,omitempty" msgpack:"task_references,omitempty" cbor:"task_references,omitempty"`
}

func NewTaskState() TaskState {
	return TaskState{Status: StatusDraft, Progress: -1}
}

func (t *TaskState) Task() *TaskState { return t }

// TaskEntity is an Entity that carries TaskState and metadata.
type TaskEntity interface {
	Entity
	Task() *TaskState
	Meta() map[string]any
}

// statusOf returns the task status of v, or StatusNone for plain entities.
func statusOf(v any) Status {
	te, ok := v.(interface{ Task() *TaskState })
	if !ok {
		return StatusNone
	}
	ts := te.Task()
	if ts == nil || ts.Status == "" {
		return StatusNone
	}
	return ts.Status
}

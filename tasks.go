package taskcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/taskcache/retry"
)

// Saver persists an entity without modifying it. *Cached[V] implements it.
type Saver[V any] interface {
	Put(ctx context.Context, v V) error
}

type TasksOptions[V TaskEntity] struct {
	// Required
	TypeName string
	Saver    Saver[V]

	Dispatcher *Dispatcher   // nil => dispatcher with an empty registry
	Registry   *TypeRegistry // resolves task_references in StartProcessing
	// Process replaces reference processing in StartProcessing.
	Process func(ctx context.Context, v V) error
	Logger  Logger
	Now     func() time.Time
}

// Tasks drives the lifecycle of task entities of one type. Every mutating
// call ends with one concurrent persist and notify unless NoEmit is given.
// Calls for the same entity must not overlap.
type Tasks[V TaskEntity] struct {
	typeName string
	saver    Saver[V]
	disp     *Dispatcher
	registry *TypeRegistry
	process  func(ctx context.Context, v V) error
	log      Logger
	now      func() time.Time
}

func NewTasks[V TaskEntity](opts TasksOptions[V]) (*Tasks[V], error) {
	if opts.TypeName == "" {
		return nil, fmt.Errorf("taskcache: type name is required")
	}
	if opts.Saver == nil {
		return nil, fmt.Errorf("taskcache: saver is required")
	}
	t := &Tasks[V]{
		typeName: opts.TypeName,
		saver:    opts.Saver,
		disp:     opts.Dispatcher,
		registry: opts.Registry,
		process:  opts.Process,
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		now:      opts.Now,
	}
	if t.disp == nil {
		t.disp = NewDispatcher(DispatcherOptions{Logger: t.log})
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

func (t *Tasks[V]) TypeName() string { return t.typeName }

type EmitOption func(*emitConfig)

type emitConfig struct {
	skip  bool
	extra map[string]any
}

// NoEmit applies the change in memory only: no save, no notification.
func NoEmit() EmitOption { return func(c *emitConfig) { c.skip = true } }

// WithExtra merges fields into the webhook body.
func WithExtra(extra map[string]any) EmitOption {
	return func(c *emitConfig) { c.extra = extra }
}

// Outcome reports what happened during one persist and notify round.
// The failures were already logged; callers may ignore it.
type Outcome struct {
	Skipped bool // NoEmit was given
	Save    error
	Emit    EmitResult
	// Resave is the error of the save that records a webhook failure.
	Resave error
}

func (o Outcome) Err() error {
	return errors.Join(o.Save, o.Emit.Err(), o.Resave)
}

// SaveStatus sets the status and logs "Status changed to <status>".
func (t *Tasks[V]) SaveStatus(ctx context.Context, v V, status Status, opts ...EmitOption) Outcome {
	v.Task().Status = status
	return t.AddLog(ctx, v, LogRecord{Message: fmt.Sprintf("Status changed to %s", status)}, opts...)
}

// AddReference appends ref to task_references, creating a serial list
// when there is none.
func (t *Tasks[V]) AddReference(ctx context.Context, v V, ref TaskReference, opts ...EmitOption) Outcome {
	ts := v.Task()
	if ts.References == nil {
		ts.References = &ReferenceList{Mode: Serial}
	}
	r := ref
	ts.References.Items = append(ts.References.Items, ReferenceNode{Ref: &r})
	return t.AddLog(ctx, v, LogRecord{Message: fmt.Sprintf("Added reference to task %s", ref.TaskID)}, opts...)
}

func (t *Tasks[V]) SaveReport(ctx context.Context, v V, report string, opts ...EmitOption) Outcome {
	v.Task().Report = report
	return t.AddLog(ctx, v, LogRecord{Message: report}, opts...)
}

// AddLog appends rec. A zero ReportedAt or Status is filled from the clock
// and the current task status.
func (t *Tasks[V]) AddLog(ctx context.Context, v V, rec LogRecord, opts ...EmitOption) Outcome {
	var cfg emitConfig
	for _, o := range opts {
		o(&cfg)
	}
	t.appendLog(v, rec)
	if cfg.skip {
		return Outcome{Skipped: true}
	}
	return t.SaveAndEmit(ctx, v, cfg.extra)
}

func (t *Tasks[V]) appendLog(v V, rec LogRecord) {
	ts := v.Task()
	if rec.ReportedAt.IsZero() {
		rec.ReportedAt = t.now()
	}
	if rec.Status == "" {
		rec.Status = ts.Status
	}
	ts.Logs = append(ts.Logs, rec)
}

// Update is a batch of changes for UpdateAndEmit. Nil fields are left alone.
type Update[V any] struct {
	Status   *Status
	Progress *int
	Report   *string
	// Apply changes non-task fields of the entity.
	Apply func(v V)
	Extra map[string]any
}

// UpdateAndEmit applies u and runs exactly one persist and notify. A terminal
// status sets progress to 100 unless u.Progress is given; a non-empty report
// is also appended to the logs.
func (t *Tasks[V]) UpdateAndEmit(ctx context.Context, v V, u Update[V]) Outcome {
	if u.Apply != nil {
		u.Apply(v)
	}
	ts := v.Task()
	if u.Status != nil {
		ts.Status = *u.Status
		if ts.Status.IsTerminal() && u.Progress == nil {
			ts.Progress = 100
		}
	}
	if u.Progress != nil {
		ts.Progress = *u.Progress
	}
	if u.Report != nil {
		ts.Report = *u.Report
		if *u.Report != "" {
			t.appendLog(v, LogRecord{Message: *u.Report})
		}
	}
	return t.SaveAndEmit(ctx, v, u.Extra)
}

// SaveAndEmit saves v and notifies listeners and the webhook concurrently.
// Failures are logged and returned in the Outcome, never as an error. When
// the webhook fails, the failure is recorded as the task report and v is
// saved again without a new notification.
func (t *Tasks[V]) SaveAndEmit(ctx context.Context, v V, extra map[string]any) Outcome {
	var out Outcome
	t.stamp(v)
	// built before Put and the listeners run, so they only read v
	n, nerr := NewNotification(t.typeName, v, extra)

	save := retry.Soft("save", t.typeName, t.log, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.saver.Put(ctx, v)
	})
	emit := retry.Soft("emit_signals", t.typeName, t.log, func(ctx context.Context) (struct{}, error) {
		if nerr != nil {
			return struct{}{}, nerr
		}
		out.Emit = t.disp.Emit(ctx, n)
		return struct{}{}, out.Emit.Err()
	})

	_ = retry.Go(ctx,
		func(ctx context.Context) error { out.Save = save(ctx).Err; return nil },
		func(ctx context.Context) error { emit(ctx); return nil },
	)
	if nerr != nil {
		// nothing was delivered
		out.Emit.Listeners = nerr
	}

	if werr := out.Emit.Webhook; werr != nil {
		report := fmt.Sprintf("An error occurred in webhook_call: %v", werr)
		v.Task().Report = report
		t.appendLog(v, LogRecord{Message: report})
		t.stamp(v)
		out.Resave = retry.Soft("save", t.typeName, t.log, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, t.saver.Put(ctx, v)
		})(ctx).Err
	}
	return out
}

func (t *Tasks[V]) stamp(v V) {
	if b, ok := any(v).(toucher); ok {
		b.touch(t.now())
	}
}

// StartProcessing runs the Process override, or else starts every task in
// task_references: serial lists stop at the first failure, parallel lists
// start all items and join their failures.
func (t *Tasks[V]) StartProcessing(ctx context.Context, v V) error {
	if t.process != nil {
		return t.process(ctx, v)
	}
	refs := v.Task().References
	if refs == nil {
		return required("start processing", "task_references")
	}
	return t.runList(ctx, refs)
}

// Bind returns v as a Processor, for use in a Resolver.
func (t *Tasks[V]) Bind(v V) Processor {
	return processorFunc(func(ctx context.Context) error { return t.StartProcessing(ctx, v) })
}

type processorFunc func(ctx context.Context) error

func (f processorFunc) StartProcessing(ctx context.Context) error { return f(ctx) }

func (t *Tasks[V]) runList(ctx context.Context, l *ReferenceList) error {
	if !l.parallel() {
		for _, n := range l.Items {
			if err := t.runNode(ctx, n); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	errs := make([]error, len(l.Items))
	for i, n := range l.Items {
		g.Go(func() error {
			errs[i] = t.runNode(ctx, n)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (t *Tasks[V]) runNode(ctx context.Context, n ReferenceNode) error {
	switch {
	case n.List != nil:
		return t.runList(ctx, n.List)
	case n.Ref != nil:
		if t.registry == nil {
			return fmt.Errorf("start %s/%s: no type registry", n.Ref.TaskType, n.Ref.TaskID)
		}
		p, err := t.registry.Resolve(ctx, *n.Ref)
		if err != nil {
			return err
		}
		return p.StartProcessing(ctx)
	default:
		return fmt.Errorf("start processing: empty reference node")
	}
}

package taskcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/taskcache/retry"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultMaxConcurrency = 8
)

// webhookKeys are the metadata keys holding a webhook URL, in lookup order.
var webhookKeys = [...]string{"webhook", "webhook_url"}

type DispatcherOptions struct {
	Signals         *SignalRegistry // nil => empty registry
	Client          *http.Client    // nil => http.Client without timeout; per request timeout applies
	WebhookTimeout  time.Duration   // 0 => 10s
	WebhookAttempts int             // 0 => 1
	WebhookDelay    time.Duration   // pause between attempts
	MaxConcurrency  int             // 0 => 8
	Logger          Logger
	Hooks           Hooks
}

// Dispatcher delivers notifications to listeners and webhooks.
type Dispatcher struct {
	signals  *SignalRegistry
	client   *http.Client
	timeout  time.Duration
	attempts int
	delay    time.Duration
	limit    int
	log      Logger
	hooks    Hooks
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		signals:  opts.Signals,
		client:   opts.Client,
		delay:    opts.WebhookDelay,
		timeout:  coalesce(opts.WebhookTimeout, defaultWebhookTimeout),
		attempts: coalesce(opts.WebhookAttempts, 1),
		limit:    coalesce(opts.MaxConcurrency, defaultMaxConcurrency),
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
	}
	if d.signals == nil {
		d.signals = NewSignalRegistry()
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	return d
}

// Signals returns the registry listeners are looked up in.
func (d *Dispatcher) Signals() *SignalRegistry { return d.signals }

// Notification is one task change to deliver. Build it with NewNotification
// before handing Task to concurrent code.
type Notification struct {
	TypeName string
	Task     TaskEntity
	Snapshot map[string]any // JSON view of Task
	Webhook  string         // target URL; "" => none
	Extra    map[string]any // merged into the webhook body
}

// NewNotification captures the JSON snapshot and webhook URL of task.
func NewNotification(typeName string, task TaskEntity, extra map[string]any) (Notification, error) {
	snap, err := snapshotOf(task)
	if err != nil {
		return Notification{}, fmt.Errorf("notify %s: snapshot: %w", typeName, err)
	}
	return Notification{
		TypeName: typeName,
		Task:     task,
		Snapshot: snap,
		Webhook:  webhookURL(task.Meta()),
		Extra:    extra,
	}, nil
}

type EmitResult struct {
	Webhook   error
	Listeners error // *NotificationError when any listener failed
}

func (r EmitResult) Err() error { return errors.Join(r.Webhook, r.Listeners) }

// Emit runs the webhook and every listener of n.TypeName concurrently and
// waits for all of them. A failing or panicking listener does not stop the
// others.
func (d *Dispatcher) Emit(ctx context.Context, n Notification) EmitResult {
	var (
		res      EmitResult
		uid      = n.Task.EntityUID()
		ls       = d.signals.Listeners(n.TypeName)
		failures = make([]error, len(ls))
		g        errgroup.Group
	)
	g.SetLimit(d.limit)

	if n.Webhook != "" {
		g.Go(func() error {
			if err := d.callWebhook(ctx, n); err != nil {
				res.Webhook = err
				d.hooks.WebhookFailed(n.TypeName, uid, err)
			}
			return nil
		})
	}
	for i, l := range ls {
		g.Go(func() error {
			failures[i] = runListener(ctx, l, n.Task)
			return nil
		})
	}
	_ = g.Wait()

	var nerr *NotificationError
	for i, err := range failures {
		if err == nil {
			continue
		}
		if nerr == nil {
			nerr = &NotificationError{TypeName: n.TypeName, UID: uid}
		}
		nerr.Failures = append(nerr.Failures, ListenerFailure{Index: i, Err: err})
		d.hooks.ListenerFailed(n.TypeName, i, err)
		d.log.Warn("listener failed", Fields{"type": n.TypeName, "uid": uid, "listener": i, "err": err})
	}
	if nerr != nil {
		res.Listeners = nerr
	}
	return res
}

func runListener(ctx context.Context, l Listener, task TaskEntity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(ctx, task)
}

func (d *Dispatcher) callWebhook(ctx context.Context, n Notification) error {
	body := make(map[string]any, len(n.Snapshot)+len(n.Extra)+1)
	for k, v := range n.Snapshot {
		body[k] = v
	}
	body["task_type"] = n.TypeName
	for k, v := range n.Extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("webhook body: %w", err)
	}

	post := retry.Retry("webhook_call", d.attempts, d.delay, d.log, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.post(ctx, n.Webhook, payload)
	})
	_, err = post(ctx)
	return err
}

func (d *Dispatcher) post(ctx context.Context, url string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

func webhookURL(meta map[string]any) string {
	for _, k := range webhookKeys {
		if s, ok := meta[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// snapshotOf is the JSON object view of v.
func snapshotOf(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

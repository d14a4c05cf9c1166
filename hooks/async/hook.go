// Package asynchook moves hook calls off the save and flush paths.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	    StagedEvery:   100,
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	jobs, _ := taskcache.New[*Job](taskcache.Options[*Job]{
//	    TypeName:   "Job",
//	    Provider:   store,
//	    Hash:       store,
//	    Collection: coll,
//	    Codec:      codec.JSON[*Job]{},
//	    Hooks:      hooks, // or `raw` if you don't want async
//	})
//
// Events are dropped when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/taskcache"
)

type Hooks struct {
	inner   taskcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ taskcache.Hooks = (*Hooks)(nil)

func New(inner taskcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Calls after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped is the number of events discarded because the queue was full.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed queue after Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHealSnapshot(k, r string) { h.try(func() { h.inner.SelfHealSnapshot(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string) { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) Staged(t, uid string)         { h.try(func() { h.inner.Staged(t, uid) }) }
func (h *Hooks) Flushed(t string, n, s int)   { h.try(func() { h.inner.Flushed(t, n, s) }) }
func (h *Hooks) FlushAborted(t, dk string, err error) {
	h.try(func() { h.inner.FlushAborted(t, dk, err) })
}
func (h *Hooks) WebhookFailed(t, uid string, err error) {
	h.try(func() { h.inner.WebhookFailed(t, uid, err) })
}
func (h *Hooks) ListenerFailed(t string, i int, err error) {
	h.try(func() { h.inner.ListenerFailed(t, i, err) })
}

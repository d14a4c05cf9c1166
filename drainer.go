package taskcache

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultDrainInterval = 30 * time.Second

type DrainerOptions struct {
	Interval time.Duration // 0 => 30s
	// Timeout bounds one round over all caches; 0 => Interval.
	Timeout time.Duration
	Logger  Logger
}

// Drainer periodically flushes a fixed set of caches, one after another.
type Drainer struct {
	caches   []Flusher
	interval time.Duration
	timeout  time.Duration
	log      Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func NewDrainer(opts DrainerOptions, caches ...Flusher) *Drainer {
	d := &Drainer{
		caches:   caches,
		interval: coalesce(opts.Interval, defaultDrainInterval),
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		stopCh:   make(chan struct{}),
	}
	d.timeout = coalesce(opts.Timeout, d.interval)
	return d
}

// Start launches the ticker loop. Calling it twice is a no-op.
func (d *Drainer) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	ticker := time.NewTicker(d.interval)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
				_ = d.DrainOnce(ctx)
				cancel()
			case <-d.stopCh:
				return
			}
		}
	}()
}

// DrainOnce flushes every cache once. A failing cache does not stop the
// others; the errors are joined.
func (d *Drainer) DrainOnce(ctx context.Context) error {
	var errs []error
	for _, c := range d.caches {
		res, err := c.FlushQueueToDB(ctx)
		if err != nil {
			d.log.Error("drain failed", Fields{"type": c.TypeName(), "err": err})
			errs = append(errs, err)
			continue
		}
		if res.Drained > 0 {
			d.log.Info("drained staged writes", Fields{
				"type": c.TypeName(), "upserted": res.Upserted, "skipped": len(res.Skipped),
			})
		}
	}
	return errors.Join(errs...)
}

// Stop ends the loop and, when ctx allows, runs a final drain so staged
// writes are not left behind. Safe to call more than once.
func (d *Drainer) Stop(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		close(d.stopCh)
		d.wg.Wait()
		err = d.DrainOnce(ctx)
	})
	return err
}

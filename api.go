package taskcache

import (
	"context"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/taskcache/codec"
	"github.com/unkn0wn-root/taskcache/docstore"
	gen "github.com/unkn0wn-root/taskcache/genstore"
	"github.com/unkn0wn-root/taskcache/internal/util"
	pr "github.com/unkn0wn-root/taskcache/provider"
)

const (
	defaultProject      = "taskcache"
	defaultCacheExpiry  = 60 * time.Second
	defaultGenRetention = 7 * 24 * time.Hour
	defaultSweep        = time.Hour
)

// SetCostFunc computes the provider cost of a snapshot (ristretto uses it).
type SetCostFunc func(key string, raw []byte) int64

// Options configure a Cached[V]. TypeName, Provider, Hash, Collection and
// Codec are required; the rest have defaults.
type Options[V Entity] struct {
	// Required
	TypeName   string // entity type, e.g. "Job". Part of every key.
	Provider   pr.Provider
	Hash       pr.HashStore
	Collection docstore.Collection
	Codec      c.Codec[V]

	Project            string        // key prefix; "" => "taskcache"
	Logger             Logger        // if nil, NopLogger is used
	Hooks              Hooks         // if nil, NopHooks is used
	CacheExpiry        time.Duration // fast-read snapshot TTL; 0 => 60s
	GenStore           gen.GenStore  // nil => LocalGenStore (in-process)
	IsolateFlushErrors bool          // skip undecodable drain entries instead of aborting
	ComputeSetCost     SetCostFunc   // default 1
	Now                func() time.Time
}

// New builds a write-behind cache for one entity type. V is normally a
// pointer to a struct embedding Base (and TaskState for tasks).
func New[V Entity](opts Options[V]) (*Cached[V], error) {
	if opts.TypeName == "" {
		return nil, fmt.Errorf("taskcache: type name is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("taskcache: provider is required")
	}
	if opts.Hash == nil {
		return nil, fmt.Errorf("taskcache: hash store is required")
	}
	if opts.Collection == nil {
		return nil, fmt.Errorf("taskcache: collection is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("taskcache: codec is required")
	}

	cc := &Cached[V]{
		typeName: opts.TypeName,
		provider: opts.Provider,
		hash:     opts.Hash,
		coll:     opts.Collection,
		codec:    opts.Codec,
		isolate:  opts.IsolateFlushErrors,
	}

	// defaults
	cc.project = coalesce(opts.Project, defaultProject)
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.expiry = coalesce(opts.CacheExpiry, defaultCacheExpiry)

	if opts.Now != nil {
		cc.now = opts.Now
	} else {
		cc.now = time.Now
	}
	if opts.ComputeSetCost != nil {
		cc.computeSetCost = opts.ComputeSetCost
	} else {
		cc.computeSetCost = func(string, []byte) int64 { return 1 }
	}
	if opts.GenStore != nil {
		cc.gen = opts.GenStore
	} else {
		cc.gen = gen.NewLocalGenStore(defaultSweep, defaultGenRetention)
	}

	cc.hashKey = util.UpdatesHashKey(cc.project, cc.typeName)
	return cc, nil
}

// Flusher is what a Drainer needs from a cache.
type Flusher interface {
	TypeName() string
	FlushQueueToDB(ctx context.Context) (FlushResult, error)
}

var _ Flusher = (*Cached[*Base])(nil)

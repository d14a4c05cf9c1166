package taskcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	c "github.com/unkn0wn-root/taskcache/codec"
	"github.com/unkn0wn-root/taskcache/docstore"
	gen "github.com/unkn0wn-root/taskcache/genstore"
	"github.com/unkn0wn-root/taskcache/internal/util"
	"github.com/unkn0wn-root/taskcache/internal/wire"
	pr "github.com/unkn0wn-root/taskcache/provider"
)

// Cached is the write-behind coordinator for one entity type.
type Cached[V Entity] struct {
	project        string
	typeName       string
	hashKey        string
	provider       pr.Provider
	hash           pr.HashStore
	coll           docstore.Collection
	codec          c.Codec[V]
	gen            gen.GenStore
	log            Logger
	hooks          Hooks
	expiry         time.Duration
	isolate        bool
	computeSetCost SetCostFunc
	now            func() time.Time
}

// Scope restricts GetItem to one owner and tenant.
type Scope struct {
	UserID       uuid.UUID
	BusinessName string
	// AnyUser allows a lookup without UserID.
	AnyUser        bool
	IncludeDeleted bool
}

type FlushResult struct {
	Drained  int      // entries found in the drain hash
	Upserted int      // documents written
	Skipped  []string // undecodable uids dropped under IsolateFlushErrors
}

func (cc *Cached[V]) TypeName() string { return cc.typeName }

func (cc *Cached[V]) Close(ctx context.Context) error {
	// Close gen store first (best effort)
	if cc.gen != nil {
		_ = cc.gen.Close(ctx)
	}
	if cc.provider != nil {
		return cc.provider.Close(ctx)
	}
	return nil
}

// Save stamps UpdatedAt on entities embedding Base and then calls Put.
func (cc *Cached[V]) Save(ctx context.Context, v V) error {
	if t, ok := any(v).(toucher); ok {
		t.touch(cc.now())
	}
	return cc.Put(ctx, v)
}

// Put refreshes the fast-read snapshot and then either stages the entity or,
// when its task status is terminal, writes it through and clears the staged
// entry. v is only read.
func (cc *Cached[V]) Put(ctx context.Context, v V) error {
	uid := v.EntityUID()
	if uid == "" {
		return required("save", "uid")
	}
	now := cc.now()
	payload, err := cc.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("save %s %q: encode: %w", cc.typeName, uid, err)
	}

	k := cc.entityKey(uid)
	frame := wire.EncodeSnapshot(wire.KindCache, cc.codec.ID(), now, payload)
	ok, err := cc.provider.Set(ctx, k, frame, cc.computeSetCost(k, frame), cc.expiry)
	if err != nil {
		return fmt.Errorf("save %s %q: cache: %w", cc.typeName, uid, err)
	}
	if !ok {
		cc.hooks.ProviderSetRejected(k)
		cc.log.Debug("snapshot rejected by provider (pressure)", Fields{"key": k})
	}

	status := statusOf(v)
	if status.IsTerminal() {
		if err := cc.coll.Upsert(ctx, cc.document(v, status, payload, now)); err != nil {
			return fmt.Errorf("save %s %q: persist: %w", cc.typeName, uid, err)
		}
		if err := cc.hash.HDel(ctx, cc.hashKey, uid); err != nil {
			return fmt.Errorf("save %s %q: unstage: %w", cc.typeName, uid, err)
		}
		cc.log.Debug("terminal save written through", Fields{"type": cc.typeName, "uid": uid, "status": string(status)})
		return nil
	}

	staged := wire.EncodeSnapshot(wire.KindStaged, cc.codec.ID(), now, payload)
	if err := cc.hash.HSet(ctx, cc.hashKey, uid, staged); err != nil {
		return fmt.Errorf("save %s %q: stage: %w", cc.typeName, uid, err)
	}
	cc.hooks.Staged(cc.typeName, uid)
	return nil
}

// IsCached reports whether uid has a staged write waiting for a flush.
func (cc *Cached[V]) IsCached(ctx context.Context, uid string) (bool, error) {
	ok, err := cc.hash.HExists(ctx, cc.hashKey, uid)
	if err != nil {
		return false, fmt.Errorf("is cached %s %q: %w", cc.typeName, uid, err)
	}
	return ok, nil
}

// GetItem reads uid through the fast-read snapshot, falling back to the
// durable collection. A cached entity outside scope yields (zero, false, nil)
// without consulting the collection.
func (cc *Cached[V]) GetItem(ctx context.Context, uid string, s Scope) (V, bool, error) {
	var zero V
	if s.UserID == uuid.Nil && !s.AnyUser {
		return zero, false, required("get item", "user id")
	}

	if v, ok := cc.getCached(ctx, uid); ok {
		if !inScope(v, s) {
			return zero, false, nil
		}
		return v, true, nil
	}

	f := docstore.Filter{UID: uid, BusinessName: s.BusinessName, IncludeDeleted: s.IncludeDeleted}
	if s.UserID != uuid.Nil {
		f.UserID = s.UserID.String()
	}
	doc, ok, err := cc.coll.FindOne(ctx, f)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := cc.codec.Decode(doc.Body)
	if err != nil {
		return zero, false, fmt.Errorf("get %s %q: decode stored document: %w", cc.typeName, uid, err)
	}
	return v, true, nil
}

func (cc *Cached[V]) getCached(ctx context.Context, uid string) (V, bool) {
	var zero V
	k := cc.entityKey(uid)
	raw, ok, err := cc.provider.Get(ctx, k)
	if err != nil {
		cc.log.Warn("cache read failed; falling back to store", Fields{"key": k, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}
	snap, err := wire.DecodeSnapshot(raw)
	if err != nil || snap.Kind != wire.KindCache {
		cc.selfHeal(ctx, k, "corrupt")
		return zero, false
	}
	if snap.Codec != cc.codec.ID() {
		cc.selfHeal(ctx, k, "codec_mismatch")
		return zero, false
	}
	v, err := cc.codec.Decode(snap.Payload)
	if err != nil {
		cc.selfHeal(ctx, k, "value_decode")
		return zero, false
	}
	return v, true
}

func (cc *Cached[V]) selfHeal(ctx context.Context, k, reason string) {
	_ = cc.provider.Del(ctx, k)
	cc.hooks.SelfHealSnapshot(k, reason)
	cc.log.Debug("self-healed cached snapshot", Fields{"key": k, "reason": reason})
}

func inScope(v Entity, s Scope) bool {
	if s.UserID != uuid.Nil && v.OwnerID() != s.UserID.String() {
		return false
	}
	if v.TenantID() != s.BusinessName {
		return false
	}
	return s.IncludeDeleted || !v.Deleted()
}

// FlushQueueToDB drains every staged write of this type into the collection
// with one bulk upsert. The staged hash is first renamed to a drain key
// numbered by a fresh generation, so saves racing the flush land in a new
// hash and are picked up by the next flush.
func (cc *Cached[V]) FlushQueueToDB(ctx context.Context) (FlushResult, error) {
	var res FlushResult

	g, err := cc.gen.Bump(ctx, cc.hashKey)
	if err != nil {
		return res, fmt.Errorf("flush %s: drain generation: %w", cc.typeName, err)
	}
	drainKey := util.DrainKey(cc.hashKey, g)
	if err := cc.hash.Rename(ctx, cc.hashKey, drainKey); err != nil {
		if errors.Is(err, pr.ErrNoSuchKey) {
			return res, nil
		}
		return res, fmt.Errorf("flush %s: swap staged hash: %w", cc.typeName, err)
	}

	entries, err := cc.hash.HGetAll(ctx, drainKey)
	if err != nil {
		cc.hooks.FlushAborted(cc.typeName, drainKey, err)
		return res, fmt.Errorf("flush %s: read %s: %w", cc.typeName, drainKey, err)
	}
	res.Drained = len(entries)

	uids := make([]string, 0, len(entries))
	for uid := range entries {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	docs := make([]docstore.Document, 0, len(uids))
	for _, uid := range uids {
		doc, err := cc.decodeStaged(entries[uid])
		if err != nil {
			if cc.isolate {
				res.Skipped = append(res.Skipped, uid)
				cc.log.Warn("skipping undecodable staged entry", Fields{"type": cc.typeName, "uid": uid, "err": err})
				continue
			}
			ferr := &FlushDecodeError{TypeName: cc.typeName, DrainKey: drainKey, UID: uid, Err: err}
			cc.hooks.FlushAborted(cc.typeName, drainKey, ferr)
			cc.log.Error("flush aborted", Fields{"type": cc.typeName, "drainKey": drainKey, "err": ferr})
			return res, ferr
		}
		docs = append(docs, doc)
	}

	if len(docs) > 0 {
		br, err := cc.coll.BulkUpsert(ctx, docs)
		if err != nil {
			cc.hooks.FlushAborted(cc.typeName, drainKey, err)
			cc.log.Error("flush aborted", Fields{"type": cc.typeName, "drainKey": drainKey, "err": err})
			return res, fmt.Errorf("flush %s: bulk upsert: %w", cc.typeName, err)
		}
		res.Upserted = br.Upserted
	}

	if err := cc.hash.DelHash(ctx, drainKey); err != nil {
		return res, fmt.Errorf("flush %s: delete %s: %w", cc.typeName, drainKey, err)
	}
	cc.hooks.Flushed(cc.typeName, res.Upserted, len(res.Skipped))
	cc.log.Debug("flushed staged writes", Fields{"type": cc.typeName, "gen": g, "upserted": res.Upserted, "skipped": len(res.Skipped)})
	return res, nil
}

func (cc *Cached[V]) decodeStaged(raw []byte) (docstore.Document, error) {
	snap, err := wire.DecodeSnapshot(raw)
	if err != nil {
		return docstore.Document{}, err
	}
	if snap.Kind != wire.KindStaged {
		return docstore.Document{}, wire.ErrCorrupt
	}
	if snap.Codec != cc.codec.ID() {
		return docstore.Document{}, fmt.Errorf("codec id %d, want %d", snap.Codec, cc.codec.ID())
	}
	v, err := cc.codec.Decode(snap.Payload)
	if err != nil {
		return docstore.Document{}, err
	}
	body := make([]byte, len(snap.Payload))
	copy(body, snap.Payload)
	return cc.document(v, statusOf(v), body, snap.SavedAt), nil
}

func (cc *Cached[V]) document(v V, st Status, body []byte, at time.Time) docstore.Document {
	return docstore.Document{
		UID:          v.EntityUID(),
		UserID:       v.OwnerID(),
		BusinessName: v.TenantID(),
		Deleted:      v.Deleted(),
		TaskStatus:   string(st),
		Body:         body,
		UpdatedAt:    at,
	}
}

func (cc *Cached[V]) entityKey(uid string) string {
	return util.EntityKey(cc.project, cc.typeName, uid)
}

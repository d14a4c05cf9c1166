package taskcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	c "github.com/unkn0wn-root/taskcache/codec"
	"github.com/unkn0wn-root/taskcache/docstore/memory"
	"github.com/unkn0wn-root/taskcache/internal/util"
	"github.com/unkn0wn-root/taskcache/internal/wire"
	pr "github.com/unkn0wn-root/taskcache/provider"
	"github.com/unkn0wn-root/taskcache/provider/local"
)

type job struct {
	Base
	TaskState
	Name string `json:"name" msgpack:"name"`
}

func newJob(user uuid.UUID, business string) *job {
	return &job{Base: NewBase(user, business), TaskState: NewTaskState(), Name: "build"}
}

type recHooks struct {
	NopHooks
	mu       sync.Mutex
	selfHeal []string
	staged   int
	flushed  int
	aborted  int
	webhook  int
	listener []int
}

func (h *recHooks) SelfHealSnapshot(_, reason string) {
	h.mu.Lock()
	h.selfHeal = append(h.selfHeal, reason)
	h.mu.Unlock()
}
func (h *recHooks) Staged(string, string) { h.mu.Lock(); h.staged++; h.mu.Unlock() }
func (h *recHooks) Flushed(_ string, n, _ int) {
	h.mu.Lock()
	h.flushed += n
	h.mu.Unlock()
}
func (h *recHooks) FlushAborted(string, string, error) { h.mu.Lock(); h.aborted++; h.mu.Unlock() }
func (h *recHooks) WebhookFailed(string, string, error) {
	h.mu.Lock()
	h.webhook++
	h.mu.Unlock()
}
func (h *recHooks) ListenerFailed(_ string, i int, _ error) {
	h.mu.Lock()
	h.listener = append(h.listener, i)
	h.mu.Unlock()
}

type fixture struct {
	store *local.Store
	coll  *memory.Collection
	hooks *recHooks
	jobs  *Cached[*job]
}

func newFixture(t *testing.T, mod func(*Options[*job])) *fixture {
	t.Helper()
	f := &fixture{store: local.New(), coll: memory.New().C("Job"), hooks: &recHooks{}}
	opts := Options[*job]{
		Project:    "test",
		TypeName:   "Job",
		Provider:   f.store,
		Hash:       f.store,
		Collection: f.coll,
		Codec:      c.JSON[*job]{},
		Hooks:      f.hooks,
	}
	if mod != nil {
		mod(&opts)
	}
	jobs, err := New[*job](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = jobs.Close(context.Background()) })
	f.jobs = jobs
	return f
}

func (f *fixture) hashKey() string { return util.UpdatesHashKey("test", "Job") }

func TestNewRequiresOptions(t *testing.T) {
	store := local.New()
	coll := memory.New().C("Job")
	full := Options[*job]{TypeName: "Job", Provider: store, Hash: store, Collection: coll, Codec: c.JSON[*job]{}}

	cases := []struct {
		name string
		mod  func(*Options[*job])
	}{
		{"type name", func(o *Options[*job]) { o.TypeName = "" }},
		{"provider", func(o *Options[*job]) { o.Provider = nil }},
		{"hash", func(o *Options[*job]) { o.Hash = nil }},
		{"collection", func(o *Options[*job]) { o.Collection = nil }},
		{"codec", func(o *Options[*job]) { o.Codec = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := full
			tc.mod(&o)
			if _, err := New[*job](o); err == nil {
				t.Fatalf("expected error without %s", tc.name)
			}
		})
	}

	cc, err := New[*job](full)
	if err != nil {
		t.Fatalf("New with all required options: %v", err)
	}
	if cc.project != defaultProject || cc.expiry != defaultCacheExpiry {
		t.Fatalf("defaults not applied: project=%q expiry=%v", cc.project, cc.expiry)
	}
	_ = cc.Close(context.Background())
}

func TestSaveNonTerminalStages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	j := newJob(uuid.New(), "acme")

	if err := f.jobs.Save(ctx, j); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ok, err := f.jobs.IsCached(ctx, j.EntityUID()); err != nil || !ok {
		t.Fatalf("IsCached: ok=%v err=%v", ok, err)
	}
	if f.coll.Writes() != 0 {
		t.Fatalf("non-terminal save must not touch the store")
	}
	if _, ok, _ := f.store.Get(ctx, util.EntityKey("test", "Job", j.EntityUID())); !ok {
		t.Fatalf("fast-read snapshot missing")
	}

	got, ok, err := f.jobs.GetItem(ctx, j.EntityUID(), Scope{UserID: j.UserID, BusinessName: "acme"})
	if err != nil || !ok {
		t.Fatalf("GetItem: ok=%v err=%v", ok, err)
	}
	if got.Name != "build" || got.Status != StatusDraft || got.Progress != -1 {
		t.Fatalf("unexpected item %+v", got)
	}
	if f.hooks.staged != 1 {
		t.Fatalf("staged hook=%d want 1", f.hooks.staged)
	}
}

func TestSaveTerminalWritesThrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	j := newJob(uuid.New(), "acme")

	j.Status = StatusProcessing
	if err := f.jobs.Save(ctx, j); err != nil {
		t.Fatal(err)
	}
	j.Status = StatusDone
	if err := f.jobs.Save(ctx, j); err != nil {
		t.Fatal(err)
	}

	if ok, _ := f.jobs.IsCached(ctx, j.EntityUID()); ok {
		t.Fatalf("terminal save must clear the staged entry")
	}
	doc, ok := f.coll.Get(j.EntityUID())
	if !ok || doc.TaskStatus != "done" || doc.UserID != j.UserID.String() || doc.BusinessName != "acme" {
		t.Fatalf("durable doc: ok=%v %+v", ok, doc)
	}

	res, err := f.jobs.FlushQueueToDB(ctx)
	if err != nil || res.Upserted != 0 {
		t.Fatalf("nothing should be left to flush: %+v %v", res, err)
	}
}

func TestPlainEntityIsStaged(t *testing.T) {
	ctx := context.Background()
	store := local.New()
	coll := memory.New().C("Note")
	notes, err := New[*Base](Options[*Base]{
		TypeName: "Note", Provider: store, Hash: store, Collection: coll, Codec: c.JSON[*Base]{},
	})
	if err != nil {
		t.Fatal(err)
	}
	b := NewBase(uuid.New(), "acme")
	if err := notes.Save(ctx, &b); err != nil {
		t.Fatal(err)
	}
	if ok, _ := notes.IsCached(ctx, b.EntityUID()); !ok {
		t.Fatalf("entity without task status should be staged")
	}
	res, err := notes.FlushQueueToDB(ctx)
	if err != nil || res.Upserted != 1 {
		t.Fatalf("flush: %+v %v", res, err)
	}
	if doc, _ := coll.Get(b.EntityUID()); doc.TaskStatus != string(StatusNone) {
		t.Fatalf("task status projection=%q want %q", doc.TaskStatus, StatusNone)
	}
}

func TestSaveTouchesUpdatedAt(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := newFixture(t, func(o *Options[*job]) { o.Now = func() time.Time { return at } })
	j := newJob(uuid.New(), "acme")
	if err := f.jobs.Save(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	if !j.UpdatedAt.Equal(at) {
		t.Fatalf("UpdatedAt=%v want %v", j.UpdatedAt, at)
	}
}

func TestFlushDrainsOnceAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	user := uuid.New()
	uids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		j := newJob(user, "acme")
		j.Name = fmt.Sprintf("job-%d", i)
		if err := f.jobs.Save(ctx, j); err != nil {
			t.Fatal(err)
		}
		uids = append(uids, j.EntityUID())
	}

	res, err := f.jobs.FlushQueueToDB(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.Drained != 3 || res.Upserted != 3 || len(res.Skipped) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.coll.BulkCalls() != 1 {
		t.Fatalf("want one bulk call, got %d", f.coll.BulkCalls())
	}
	for _, uid := range uids {
		if ok, _ := f.jobs.IsCached(ctx, uid); ok {
			t.Fatalf("%s still staged after flush", uid)
		}
		if _, ok := f.coll.Get(uid); !ok {
			t.Fatalf("%s not persisted", uid)
		}
	}
	if keys := f.store.HashKeys(); len(keys) != 0 {
		t.Fatalf("drain key should be removed, have %v", keys)
	}

	res, err = f.jobs.FlushQueueToDB(ctx)
	if err != nil || res.Drained != 0 || res.Upserted != 0 {
		t.Fatalf("second flush: %+v %v", res, err)
	}
	if f.coll.BulkCalls() != 1 {
		t.Fatalf("second flush must not write, bulk calls=%d", f.coll.BulkCalls())
	}
	if f.hooks.flushed != 3 {
		t.Fatalf("flushed hook=%d want 3", f.hooks.flushed)
	}
}

func TestFlushLastWriteWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	j := newJob(uuid.New(), "acme")
	for _, name := range []string{"a", "b", "c"} {
		j.Name = name
		if err := f.jobs.Save(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	res, err := f.jobs.FlushQueueToDB(ctx)
	if err != nil || res.Upserted != 1 {
		t.Fatalf("flush: %+v %v", res, err)
	}
	doc, _ := f.coll.Get(j.EntityUID())
	if !strings.Contains(string(doc.Body), `"name":"c"`) {
		t.Fatalf("last save should win: %s", doc.Body)
	}
}

// renameHook runs after a successful Rename, while the drain is in flight.
type renameHook struct {
	pr.HashStore
	after func()
}

func (h *renameHook) Rename(ctx context.Context, src, dst string) error {
	err := h.HashStore.Rename(ctx, src, dst)
	if err == nil && h.after != nil {
		after := h.after
		h.after = nil
		after()
	}
	return err
}

func TestSaveDuringFlushIsKeptForNextFlush(t *testing.T) {
	ctx := context.Background()
	hook := &renameHook{}
	f := newFixture(t, func(o *Options[*job]) {
		hook.HashStore = o.Hash
		o.Hash = hook
	})

	first := newJob(uuid.New(), "acme")
	late := newJob(uuid.New(), "acme")
	if err := f.jobs.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	hook.after = func() {
		if err := f.jobs.Save(ctx, late); err != nil {
			t.Errorf("save during flush: %v", err)
		}
	}

	res, err := f.jobs.FlushQueueToDB(ctx)
	if err != nil || res.Upserted != 1 {
		t.Fatalf("first flush: %+v %v", res, err)
	}
	if _, ok := f.coll.Get(late.EntityUID()); ok {
		t.Fatalf("late save must not be part of the first drain")
	}
	if ok, _ := f.jobs.IsCached(ctx, late.EntityUID()); !ok {
		t.Fatalf("late save must stay staged")
	}

	res, err = f.jobs.FlushQueueToDB(ctx)
	if err != nil || res.Upserted != 1 {
		t.Fatalf("second flush: %+v %v", res, err)
	}
	if _, ok := f.coll.Get(late.EntityUID()); !ok {
		t.Fatalf("late save lost")
	}
}

// stepClock advances by one millisecond on every call.
func stepClock() func() time.Time {
	var (
		mu sync.Mutex
		at = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Millisecond)
		return at
	}
}

func TestTerminalSaveDuringFlushIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	hook := &renameHook{}
	f := newFixture(t, func(o *Options[*job]) {
		o.Now = stepClock()
		hook.HashStore = o.Hash
		o.Hash = hook
	})

	j := newJob(uuid.New(), "acme")
	j.Status = StatusProcessing
	if err := f.jobs.Save(ctx, j); err != nil {
		t.Fatal(err)
	}
	hook.after = func() {
		j.Status = StatusDone
		if err := f.jobs.Save(ctx, j); err != nil {
			t.Errorf("terminal save during flush: %v", err)
		}
	}

	res, err := f.jobs.FlushQueueToDB(ctx)
	if err != nil || res.Drained != 1 || res.Upserted != 0 {
		t.Fatalf("flush: %+v %v", res, err)
	}
	doc, ok := f.coll.Get(j.EntityUID())
	if !ok || doc.TaskStatus != "done" {
		t.Fatalf("durable status = %q (ok=%v), want done", doc.TaskStatus, ok)
	}
	if ok, _ := f.jobs.IsCached(ctx, j.EntityUID()); ok {
		t.Fatalf("nothing should stay staged")
	}

	// with the fast-read key gone the durable copy is what readers get
	_ = f.store.Del(ctx, util.EntityKey("test", "Job", j.EntityUID()))
	got, ok, err := f.jobs.GetItem(ctx, j.EntityUID(), Scope{UserID: j.UserID, BusinessName: "acme"})
	if err != nil || !ok || got.Status != StatusDone {
		t.Fatalf("GetItem: ok=%v err=%v status=%v", ok, err, got)
	}
}

func TestFlushDecodeErrorAbortsBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	good := newJob(uuid.New(), "acme")
	if err := f.jobs.Save(ctx, good); err != nil {
		t.Fatal(err)
	}
	if err := f.store.HSet(ctx, f.hashKey(), "bad", []byte("not a frame")); err != nil {
		t.Fatal(err)
	}

	_, err := f.jobs.FlushQueueToDB(ctx)
	var fe *FlushDecodeError
	if !errors.As(err, &fe) || fe.UID != "bad" || fe.TypeName != "Job" {
		t.Fatalf("want FlushDecodeError for bad, got %v", err)
	}
	if f.coll.BulkCalls() != 0 || f.coll.Writes() != 0 {
		t.Fatalf("aborted flush must not write")
	}
	if keys := f.store.HashKeys(); len(keys) != 1 || keys[0] != fe.DrainKey {
		t.Fatalf("drain key should be retained, have %v", keys)
	}
	if f.hooks.aborted != 1 {
		t.Fatalf("aborted hook=%d", f.hooks.aborted)
	}
}

func TestFlushIsolateSkipsBadEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(o *Options[*job]) { o.IsolateFlushErrors = true })
	good := newJob(uuid.New(), "acme")
	if err := f.jobs.Save(ctx, good); err != nil {
		t.Fatal(err)
	}
	_ = f.store.HSet(ctx, f.hashKey(), "bad", []byte("junk"))
	// right frame, wrong codec
	_ = f.store.HSet(ctx, f.hashKey(), "foreign", wire.EncodeSnapshot(wire.KindStaged, c.IDMsgpack, time.Now(), []byte{0x80}))

	res, err := f.jobs.FlushQueueToDB(ctx)
	if err != nil {
		t.Fatalf("isolated flush: %v", err)
	}
	sort.Strings(res.Skipped)
	if res.Drained != 3 || res.Upserted != 1 || len(res.Skipped) != 2 || res.Skipped[0] != "bad" || res.Skipped[1] != "foreign" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := f.coll.Get(good.EntityUID()); !ok {
		t.Fatalf("good entry not persisted")
	}
}

func TestGetItemRequiresUser(t *testing.T) {
	f := newFixture(t, nil)
	_, _, err := f.jobs.GetItem(context.Background(), "x", Scope{BusinessName: "acme"})
	if !errors.Is(err, ErrContractViolation) {
		t.Fatalf("want ErrContractViolation, got %v", err)
	}
	var cv *ContractViolation
	if !errors.As(err, &cv) || cv.Missing != "user id" {
		t.Fatalf("want ContractViolation naming user id, got %v", err)
	}
}

func TestGetItemScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	owner := uuid.New()
	j := newJob(owner, "acme")
	if err := f.jobs.Save(ctx, j); err != nil {
		t.Fatal(err)
	}
	uid := j.EntityUID()

	cases := []struct {
		name  string
		scope Scope
		want  bool
	}{
		{"owner", Scope{UserID: owner, BusinessName: "acme"}, true},
		{"other owner", Scope{UserID: uuid.New(), BusinessName: "acme"}, false},
		{"other business", Scope{UserID: owner, BusinessName: "globex"}, false},
		{"any user", Scope{AnyUser: true, BusinessName: "acme"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, err := f.jobs.GetItem(ctx, uid, tc.scope)
			if err != nil || ok != tc.want {
				t.Fatalf("ok=%v err=%v want ok=%v", ok, err, tc.want)
			}
		})
	}
}

func TestGetItemFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	owner := uuid.New()
	j := newJob(owner, "acme")
	j.Status = StatusCompleted
	if err := f.jobs.Save(ctx, j); err != nil {
		t.Fatal(err)
	}
	_ = f.store.Del(ctx, util.EntityKey("test", "Job", j.EntityUID()))

	got, ok, err := f.jobs.GetItem(ctx, j.EntityUID(), Scope{UserID: owner, BusinessName: "acme"})
	if err != nil || !ok || got.Status != StatusCompleted {
		t.Fatalf("store fallback: ok=%v err=%v %+v", ok, err, got)
	}
	if _, ok, _ := f.jobs.GetItem(ctx, j.EntityUID(), Scope{UserID: uuid.New(), BusinessName: "acme"}); ok {
		t.Fatalf("store lookup must respect owner")
	}
}

func TestGetItemHidesDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	owner := uuid.New()
	j := newJob(owner, "acme")
	j.IsDeleted = true
	j.Status = StatusDone
	if err := f.jobs.Save(ctx, j); err != nil {
		t.Fatal(err)
	}
	s := Scope{UserID: owner, BusinessName: "acme"}
	if _, ok, _ := f.jobs.GetItem(ctx, j.EntityUID(), s); ok {
		t.Fatalf("deleted entity should be hidden")
	}
	s.IncludeDeleted = true
	if _, ok, _ := f.jobs.GetItem(ctx, j.EntityUID(), s); !ok {
		t.Fatalf("IncludeDeleted should return it")
	}
}

func TestCorruptSnapshotSelfHeals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	k := util.EntityKey("test", "Job", "u1")
	_, _ = f.store.Set(ctx, k, []byte("garbage"), 1, time.Minute)

	if _, ok, err := f.jobs.GetItem(ctx, "u1", Scope{AnyUser: true}); ok || err != nil {
		t.Fatalf("corrupt entry should read as miss: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := f.store.Get(ctx, k); ok {
		t.Fatalf("corrupt key should be deleted")
	}
	if len(f.hooks.selfHeal) != 1 || f.hooks.selfHeal[0] != "corrupt" {
		t.Fatalf("self heal hooks=%v", f.hooks.selfHeal)
	}
}

func TestCodecSwitchSelfHeals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	owner := uuid.New()
	j := newJob(owner, "acme")
	if err := f.jobs.Save(ctx, j); err != nil {
		t.Fatal(err)
	}

	hooks := &recHooks{}
	mp, err := New[*job](Options[*job]{
		Project: "test", TypeName: "Job", Provider: f.store, Hash: f.store,
		Collection: f.coll, Codec: c.Msgpack[*job]{}, Hooks: hooks,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = mp.Close(ctx) }()
	if _, ok, _ := mp.GetItem(ctx, j.EntityUID(), Scope{UserID: owner, BusinessName: "acme"}); ok {
		t.Fatalf("foreign codec entry should not decode")
	}
	if len(hooks.selfHeal) != 1 || hooks.selfHeal[0] != "codec_mismatch" {
		t.Fatalf("self heal hooks=%v", hooks.selfHeal)
	}
}

func TestConcurrentSavesThenFlush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	const n = 50

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.jobs.Save(ctx, newJob(uuid.New(), "acme"))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	res, err := f.jobs.FlushQueueToDB(ctx)
	if err != nil || res.Upserted != n {
		t.Fatalf("flush: %+v %v", res, err)
	}
}

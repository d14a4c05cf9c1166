// Package sloghooks logs taskcache hook events through log/slog, with
// sampling for the high-volume events and redacted storage keys.
package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/taskcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	StagedEvery   uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	stagedCtr   atomic.Uint64
}

var _ taskcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHealSnapshot(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("taskcache.self_heal_snapshot",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("taskcache.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) Staged(typeName, uid string) {
	if h.l == nil || !sample(h.opts.StagedEvery, &h.stagedCtr) {
		return
	}
	h.l.Debug("taskcache.staged",
		"type", typeName,
		"uid", uid)
}

func (h *Hooks) Flushed(typeName string, upserted, skipped int) {
	if h.l == nil {
		return
	}
	lvl := slog.LevelInfo
	if skipped > 0 {
		lvl = slog.LevelWarn
	}
	h.l.Log(context.Background(), lvl, "taskcache.flushed",
		"type", typeName,
		"upserted", upserted,
		"skipped", skipped)
}

func (h *Hooks) FlushAborted(typeName, drainKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("taskcache.flush_aborted",
		"type", typeName,
		"drain_key", h.redact(drainKey),
		"err", err)
}

func (h *Hooks) WebhookFailed(typeName, uid string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("taskcache.webhook_failed",
		"type", typeName,
		"uid", uid,
		"err", err)
}

func (h *Hooks) ListenerFailed(typeName string, index int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("taskcache.listener_failed",
		"type", typeName,
		"listener", index,
		"err", err)
}

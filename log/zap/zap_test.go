package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	tlog "github.com/unkn0wn-root/taskcache/log"
)

func TestFieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ZapLogger{L: zap.New(core)}

	l.Warn("flush aborted", tlog.Fields{"type": "Job", "err": errors.New("boom")})
	l.Debug("no fields", nil)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["type"] != "Job" || ctx["err"] != "boom" {
		t.Fatalf("context=%v", ctx)
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("level=%v", entries[0].Level)
	}
}

package taskcache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
type Hooks interface {
	// A cached snapshot was deleted on read.
	// reason ∈ {"corrupt", "codec_mismatch", "value_decode"}
	SelfHealSnapshot(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// A non-terminal save was staged into the updates hash.
	Staged(typeName, uid string)

	// A drain finished; skipped counts entries dropped under IsolateFlushErrors.
	Flushed(typeName string, upserted, skipped int)

	// A drain stopped before the durable write; the drain key is retained.
	FlushAborted(typeName, drainKey string, err error)

	// Webhook delivery failed after all attempts.
	WebhookFailed(typeName, uid string, err error)

	// One listener failed or panicked.
	ListenerFailed(typeName string, index int, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHealSnapshot(string, string)     {}
func (NopHooks) ProviderSetRejected(string)          {}
func (NopHooks) Staged(string, string)               {}
func (NopHooks) Flushed(string, int, int)            {}
func (NopHooks) FlushAborted(string, string, error)  {}
func (NopHooks) WebhookFailed(string, string, error) {}
func (NopHooks) ListenerFailed(string, int, error)   {}

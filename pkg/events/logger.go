package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/flagkit/pkg/storage"
	"github.com/dmitrymomot/flagkit/pkg/transport"
)

const kvFailedBatchesKey = "failed_events:v1"

// Defaults, all overridable. The dedupe window and queue bounds are tuning
// knobs, not correctness invariants.
const (
	DefaultFlushInterval   = 10 * time.Second
	DefaultFlushThreshold  = 100
	DefaultDedupeWindow    = 10 * time.Minute
	DefaultMaxQueuedEvents = 1000
	DefaultMaxBatchAge     = 3 * 24 * time.Hour
)

// Sender delivers event batches. *transport.Client satisfies it.
type Sender interface {
	LogEvents(ctx context.Context, payload any) error
	SendBeacon(payload []byte) bool
}

type logPayload struct {
	Events   []Event            `json:"events"`
	Metadata transport.Metadata `json:"sdkMetadata"`
}

// Logger batches exposure and custom events, deduplicates repeated exposures
// within a cooldown window, and keeps a bounded durable queue of batches
// that could not be delivered.
type Logger struct {
	mu     sync.Mutex
	sender Sender
	kv     storage.KV
	log    *slog.Logger
	meta   transport.Metadata

	queue []Event
	seen  map[string]time.Time

	flushInterval   time.Duration
	threshold       int
	dedupeWindow    time.Duration
	maxQueuedEvents int
	maxBatchAge     time.Duration

	// persistMu serializes read-modify-write cycles on the durable failure
	// queue; concurrent failed flushes must not clobber each other's write.
	persistMu sync.Mutex

	done chan struct{}
	once sync.Once
}

// Option configures a Logger.
type Option func(*Logger)

// WithKV sets the durable store for the failure queue.
func WithKV(kv storage.KV) Option {
	return func(l *Logger) {
		if kv != nil {
			l.kv = kv
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetadata stamps SDK metadata onto every delivered payload.
func WithMetadata(meta transport.Metadata) Option {
	return func(l *Logger) { l.meta = meta }
}

// WithFlushInterval sets the periodic flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.flushInterval = d
		}
	}
}

// WithFlushThreshold sets the queue size that triggers an immediate flush.
func WithFlushThreshold(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.threshold = n
		}
	}
}

// WithDedupeWindow sets the exposure deduplication cooldown.
func WithDedupeWindow(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.dedupeWindow = d
		}
	}
}

// WithQueueBounds bounds the durable failure queue by total event count and
// batch age.
func WithQueueBounds(maxEvents int, maxAge time.Duration) Option {
	return func(l *Logger) {
		if maxEvents > 0 {
			l.maxQueuedEvents = maxEvents
		}
		if maxAge > 0 {
			l.maxBatchAge = maxAge
		}
	}
}

// New creates a Logger and starts its periodic flush loop. Call Shutdown to
// stop the loop and drain the queue.
func New(sender Sender, opts ...Option) *Logger {
	l := &Logger{
		sender:          sender,
		kv:              storage.NewMemory(),
		log:             slog.New(slog.DiscardHandler),
		seen:            make(map[string]time.Time),
		flushInterval:   DefaultFlushInterval,
		threshold:       DefaultFlushThreshold,
		dedupeWindow:    DefaultDedupeWindow,
		maxQueuedEvents: DefaultMaxQueuedEvents,
		maxBatchAge:     DefaultMaxBatchAge,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.loop()
	return l
}

func (l *Logger) loop() {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.Flush(context.Background(), false)
		}
	}
}

// Log enqueues an event. Exposure events repeating an identical shape within
// the dedupe window are dropped; the first occurrence always logs. Hitting
// the size threshold triggers an asynchronous flush.
func (l *Logger) Log(e Event) {
	l.mu.Lock()
	if e.exposure() {
		key := e.dedupeKey()
		if at, ok := l.seen[key]; ok && time.Since(at) < l.dedupeWindow {
			l.mu.Unlock()
			return
		}
		l.seen[key] = time.Now()
	}
	l.queue = append(l.queue, e)
	shouldFlush := len(l.queue) >= l.threshold
	l.mu.Unlock()

	if shouldFlush {
		go l.Flush(context.Background(), false)
	}
}

// pruneSeenLocked drops dedupe entries older than the window so the seen-set
// stays proportional to recently active exposure shapes.
func (l *Logger) pruneSeenLocked() {
	cutoff := time.Now().Add(-l.dedupeWindow)
	for k, at := range l.seen {
		if at.Before(cutoff) {
			delete(l.seen, k)
		}
	}
}

// ResetDedupe clears the exposure seen-set, typically on identity switch so
// the new user's first exposures are not suppressed by the old user's.
func (l *Logger) ResetDedupe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = make(map[string]time.Time)
}

// Flush delivers the current batch. When terminating, delivery goes through
// the fire-and-forget beacon; if that fails the batch lands in the durable
// failure queue instead of being dropped silently. A failed normal flush
// requeues the same way.
func (l *Logger) Flush(ctx context.Context, terminating bool) {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.pruneSeenLocked()
	l.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	payload := logPayload{Events: batch, Metadata: l.meta}

	if terminating {
		raw, err := json.Marshal(payload)
		if err != nil || !l.sender.SendBeacon(raw) {
			l.persistFailed(ctx, batch)
		}
		return
	}

	if err := l.sender.LogEvents(ctx, payload); err != nil {
		l.log.Warn("event flush failed, queuing batch", "events", len(batch), "error", err)
		l.persistFailed(ctx, batch)
	}
}

// persistFailed appends a batch to the durable failure queue, then trims by
// age and total event count, discarding oldest first.
func (l *Logger) persistFailed(ctx context.Context, batch []Event) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	pending := l.loadPersisted(ctx)
	pending = append(pending, PendingBatch{Events: batch, Time: time.Now().UnixMilli()})

	cutoff := time.Now().Add(-l.maxBatchAge).UnixMilli()
	kept := make([]PendingBatch, 0, len(pending))
	total := 0
	// Walk newest-first so trimming drops the oldest batches.
	for i := len(pending) - 1; i >= 0; i-- {
		b := pending[i]
		if b.Time < cutoff || total+len(b.Events) > l.maxQueuedEvents {
			continue
		}
		total += len(b.Events)
		kept = append(kept, b)
	}
	// Restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	raw, err := json.Marshal(kept)
	if err != nil {
		l.log.Warn("failure queue marshal failed", "error", err)
		return
	}
	if err := l.kv.Set(ctx, kvFailedBatchesKey, raw); err != nil {
		l.log.Warn("failure queue write failed", "error", err)
	}
}

func (l *Logger) loadPersisted(ctx context.Context) []PendingBatch {
	raw, err := l.kv.Get(ctx, kvFailedBatchesKey)
	if err != nil {
		return nil
	}
	var pending []PendingBatch
	if err := json.Unmarshal(raw, &pending); err != nil {
		l.log.Warn("failure queue corrupted, dropping", "error", err)
		_ = l.kv.Remove(ctx, kvFailedBatchesKey)
		return nil
	}
	return pending
}

// SendPersistedBatches replays batches persisted by a previous session. Each
// batch is attempted exactly once and the persisted queue is cleared
// regardless of outcome; replay failures never requeue, which would
// otherwise amplify retries without bound across restarts.
func (l *Logger) SendPersistedBatches(ctx context.Context) {
	l.persistMu.Lock()
	pending := l.loadPersisted(ctx)
	_ = l.kv.Remove(ctx, kvFailedBatchesKey)
	l.persistMu.Unlock()
	if len(pending) == 0 {
		return
	}

	cutoff := time.Now().Add(-l.maxBatchAge).UnixMilli()
	for _, b := range pending {
		if b.Time < cutoff || len(b.Events) == 0 {
			continue
		}
		if err := l.sender.LogEvents(ctx, logPayload{Events: b.Events, Metadata: l.meta}); err != nil {
			l.log.Warn("persisted batch replay failed, dropping", "events", len(b.Events), "error", err)
		}
	}
}

// Shutdown stops the flush loop and delivers whatever is queued through the
// teardown path.
func (l *Logger) Shutdown(ctx context.Context) {
	l.once.Do(func() { close(l.done) })
	l.Flush(ctx, true)
}

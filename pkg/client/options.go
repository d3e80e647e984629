package client

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/flagkit/pkg/storage"
	"github.com/dmitrymomot/flagkit/pkg/transport"
)

// Option configures a Client at construction time.
type Option func(*settings)

type settings struct {
	cfg           Config
	log           *slog.Logger
	kv            storage.KV
	userStore     storage.UserPersistentStorage
	stableID      string
	bootstrap     []byte
	localSpecs    []byte
	transportOpts []transport.Option
}

// WithTransportOptions forwards options to the underlying transport client,
// mainly to inject a custom HTTP client in tests.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(s *settings) { s.transportOpts = append(s.transportOpts, opts...) }
}

// WithConfig replaces the environment-derived configuration wholesale.
func WithConfig(cfg Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithLogger sets the diagnostics logger for every SDK component.
func WithLogger(log *slog.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStorage sets the durable key-value adapter shared by the cache store
// and the event failure queue. Without one, state lives in memory only.
func WithStorage(kv storage.KV) Option {
	return func(s *settings) {
		if kv != nil {
			s.kv = kv
		}
	}
}

// WithUserPersistentStorage sets the sticky-bucketing adapter.
func WithUserPersistentStorage(ups storage.UserPersistentStorage) Option {
	return func(s *settings) { s.userStore = ups }
}

// WithStableID pins the device identifier instead of generating one.
func WithStableID(id string) Option {
	return func(s *settings) { s.stableID = id }
}

// WithBootstrapValues supplies a precomputed values snapshot applied during
// Initialize, before any network call. The snapshot's evaluated identity
// must match the initialized user or it is rejected.
func WithBootstrapValues(raw []byte) Option {
	return func(s *settings) { s.bootstrap = raw }
}

// WithLocalSpecs supplies a rule-spec snapshot enabling fully-offline
// evaluation of names the cache does not know.
func WithLocalSpecs(raw []byte) Option {
	return func(s *settings) { s.localSpecs = raw }
}

// WithAPIURL overrides the config service base URL.
func WithAPIURL(u string) Option {
	return func(s *settings) {
		if u != "" {
			s.cfg.APIURL = u
		}
	}
}

// WithEventsURL overrides the logging endpoint base URL.
func WithEventsURL(u string) Option {
	return func(s *settings) {
		if u != "" {
			s.cfg.EventsURL = u
		}
	}
}

// WithInitTimeout caps how long Initialize waits for the first fetch before
// returning with cached or default values.
func WithInitTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cfg.InitTimeout = d
		}
	}
}

// EvalOption adjusts a single evaluation call.
type EvalOption func(*evalSettings)

type evalSettings struct {
	wantsLatest     bool
	ignoreOverrides bool
	noExposure      bool
}

func defaultEvalSettings() evalSettings {
	return evalSettings{wantsLatest: true}
}

// WithStickyBucketing returns the previously persisted assignment while the
// experiment or layer remains active, instead of the freshest value.
func WithStickyBucketing() EvalOption {
	return func(e *evalSettings) { e.wantsLatest = false }
}

// WithoutOverrides requests raw evaluation, skipping local overrides.
func WithoutOverrides() EvalOption {
	return func(e *evalSettings) { e.ignoreOverrides = true }
}

// WithoutExposureLogging suppresses the exposure event for this call.
func WithoutExposureLogging() EvalOption {
	return func(e *evalSettings) { e.noExposure = true }
}

package client

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/flagkit/pkg/evaluator"
	"github.com/dmitrymomot/flagkit/pkg/events"
	"github.com/dmitrymomot/flagkit/pkg/identity"
	"github.com/dmitrymomot/flagkit/pkg/logger"
	"github.com/dmitrymomot/flagkit/pkg/storage"
	"github.com/dmitrymomot/flagkit/pkg/store"
	"github.com/dmitrymomot/flagkit/pkg/transport"
)

const kvStableIDKey = "stable_id:v1"

// Client is the SDK's explicit context object: it owns the cache store, the
// transport, the exposure logger and the optional offline evaluator, and is
// passed by handle into every operation. There are no process-wide statics;
// two Clients with different SDK keys coexist without interference.
type Client struct {
	sdkKey    string
	cfg       Config
	log       *slog.Logger
	store     *store.Store
	transport *transport.Client
	events    *events.Logger
	specs     *evaluator.SpecSet
	bootstrap []byte

	mu          sync.Mutex
	user        *identity.User
	initialized bool
}

// New constructs a Client. Configuration errors (an unusable SDK key,
// unparseable settings) are returned synchronously; they are the only
// errors this package ever surfaces.
func New(sdkKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(sdkKey) == "" {
		return nil, ErrInvalidSDKKey
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := settings{
		cfg: cfg,
		kv:  storage.NewMemory(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		if s.cfg.Debug {
			s.log = logger.New(
				logger.WithLevel(slog.LevelDebug),
				logger.WithFormat(logger.Format(s.cfg.LogFormat)),
			)
		} else {
			s.log = logger.Discard()
		}
	}

	stableID := s.stableID
	if stableID == "" {
		stableID = loadStableID(s.kv)
	}

	tr := transport.New(sdkKey, append([]transport.Option{
		transport.WithAPIURL(s.cfg.APIURL),
		transport.WithEventsURL(s.cfg.EventsURL),
		transport.WithRetries(s.cfg.MaxRetries, s.cfg.RetryBackoff),
		transport.WithLogger(s.log),
		transport.WithStableID(stableID),
	}, s.transportOpts...)...)

	st := store.New(sdkKey,
		store.WithKV(s.kv),
		store.WithStableID(stableID),
		store.WithLogger(s.log),
		store.WithUserPersistentStorage(s.userStore),
		store.WithCacheLimit(s.cfg.CacheLimit),
	)

	ev := events.New(tr,
		events.WithKV(s.kv),
		events.WithLogger(s.log),
		events.WithMetadata(tr.Metadata()),
		events.WithFlushInterval(s.cfg.FlushInterval),
		events.WithFlushThreshold(s.cfg.FlushThreshold),
		events.WithDedupeWindow(s.cfg.DedupeWindow),
		events.WithQueueBounds(s.cfg.MaxQueuedEvents, s.cfg.MaxBatchAge),
	)

	c := &Client{
		sdkKey:    sdkKey,
		cfg:       s.cfg,
		log:       s.log,
		store:     st,
		transport: tr,
		events:    ev,
		bootstrap: s.bootstrap,
	}
	if len(s.localSpecs) > 0 {
		specs, err := evaluator.ParseSpecSet(s.localSpecs)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfiguration, err)
		}
		c.specs = specs
	}
	return c, nil
}

// loadStableID reads the persisted device identifier, generating and
// persisting a fresh one on first run. Storage failures fall back to an
// ephemeral ID for this process.
func loadStableID(kv storage.KV) string {
	ctx := context.Background()
	if raw, err := kv.Get(ctx, kvStableIDKey); err == nil && len(raw) > 0 {
		return string(raw)
	}
	id := uuid.NewString()
	_ = kv.Set(ctx, kvStableIDKey, []byte(id))
	return id
}

// Initialize loads persisted state for the user, applies any bootstrap
// snapshot, and kicks off the first values fetch. It returns once fresh
// values arrived or the init timeout elapsed; either way the client is
// usable, with evaluation reasons explaining value provenance. The supplied
// user is copied; the caller's value is never mutated.
func (c *Client) Initialize(ctx context.Context, user *identity.User) error {
	c.mu.Lock()
	c.user = user.Copy()
	c.initialized = true
	c.mu.Unlock()

	c.store.Load(ctx)
	c.store.SetUser(ctx, user)
	if len(c.bootstrap) > 0 {
		c.store.Bootstrap(ctx, c.bootstrap)
	}

	go c.events.SendPersistedBatches(context.WithoutCancel(ctx))

	start := time.Now()
	fresh := c.fetchAndApply(ctx)
	c.events.Log(events.Diagnostics(user, map[string]string{
		"action":     "initialize",
		"success":    strconv.FormatBool(fresh),
		"durationMs": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
	}))
	return nil
}

// UpdateUser switches the active identity and refreshes its values. The
// in-flight fetch for the previous identity, if any, is not cancelled: its
// completion applies under the previous identity's cache key.
func (c *Client) UpdateUser(ctx context.Context, user *identity.User) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.user = user.Copy()
	c.mu.Unlock()

	c.store.SetUser(ctx, user)
	c.events.ResetDedupe()
	c.fetchAndApply(ctx)
	return nil
}

// fetchAndApply issues a values fetch under the current identity's epoch and
// applies the result, immediately when the call beats the timeout, or from
// the deferred channel when it does not. It reports whether fresh values
// were applied before returning. Fetch failures are not errors at this
// boundary; the caller keeps cached or default values.
func (c *Client) fetchAndApply(ctx context.Context) bool {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()

	keys, epoch := c.store.BeginFetch()
	resp, eventually, err := c.transport.FetchValues(ctx, user, c.store.SinceTime(), c.cfg.InitTimeout)
	if err == nil && resp != nil {
		c.store.ApplyFetch(ctx, keys, epoch, resp)
		return true
	}
	c.log.Debug("fetch did not complete in time", "error", err)
	if eventually == nil {
		return false
	}

	// The deferred completion still applies under the issuing identity's
	// keys and epoch, so a late response can never cross identities.
	go func() {
		bg := context.WithoutCancel(ctx)
		if late, ok := <-eventually; ok && late != nil {
			c.store.ApplyFetch(bg, keys, epoch, late)
		}
	}()
	return false
}

// CheckGate reports whether a feature gate is on for the current user and
// logs the exposure.
func (c *Client) CheckGate(name string, opts ...EvalOption) bool {
	return c.GetFeatureGate(name, opts...).Value()
}

// GetFeatureGate returns the full gate result.
func (c *Client) GetFeatureGate(name string, opts ...EvalOption) FeatureGate {
	es := defaultEvalSettings()
	for _, opt := range opts {
		opt(&es)
	}
	eval := c.evaluate(name, store.KindGate, es)
	if !es.noExposure {
		c.logExposure(events.GateExposure(c.currentUser(), eval))
	}
	return newFeatureGate(eval)
}

// GetConfig returns a dynamic config's current values.
func (c *Client) GetConfig(name string, opts ...EvalOption) DynamicConfig {
	es := defaultEvalSettings()
	for _, opt := range opts {
		opt(&es)
	}
	eval := c.evaluate(name, store.KindConfig, es)
	if !es.noExposure {
		c.logExposure(events.ConfigExposure(c.currentUser(), eval))
	}
	return newDynamicConfig(eval)
}

// GetExperiment returns an experiment's values. Experiments are dynamic
// configs with enrollment semantics; use WithStickyBucketing to keep the
// first assignment while the experiment stays active.
func (c *Client) GetExperiment(name string, opts ...EvalOption) DynamicConfig {
	return c.GetConfig(name, opts...)
}

// GetLayer returns a layer handle. Exposure is logged lazily per parameter
// access, with allocation metadata attached, so unused layers cost nothing.
func (c *Client) GetLayer(name string, opts ...EvalOption) Layer {
	es := defaultEvalSettings()
	for _, opt := range opts {
		opt(&es)
	}
	eval := c.evaluate(name, store.KindLayer, es)
	user := c.currentUser()
	onExposure := func(parameter string) {
		c.logExposure(events.LayerExposure(user, eval, parameter))
	}
	if es.noExposure {
		onExposure = nil
	}
	return newLayer(eval, onExposure)
}

// evaluate consults the store first; when the store has nothing usable and a
// local rule-spec snapshot is loaded, it re-derives the value offline unless
// the spec needs server-side data.
func (c *Client) evaluate(name string, kind store.Kind, es evalSettings) store.Evaluation {
	eval := c.store.Get(name, kind, es.wantsLatest, es.ignoreOverrides)
	if c.specs == nil || !evalMissed(eval.Reason) {
		return eval
	}

	user := c.currentUser()
	var res evaluator.Result
	var found bool
	switch kind {
	case store.KindGate:
		res, found = c.specs.EvalGate(user, name)
	case store.KindConfig:
		res, found = c.specs.EvalConfig(user, name)
	case store.KindLayer:
		res, found = c.specs.EvalLayer(user, name)
	}
	if !found || res.RequiresNetwork {
		return eval
	}
	return store.Evaluation{
		Name:               name,
		Value:              res.Pass,
		JSONValue:          res.JSONValue,
		RuleID:             res.RuleID,
		GroupName:          res.GroupName,
		Reason:             store.ReasonBootstrap,
		SecondaryExposures: res.SecondaryExposures,
		EvaluationTime:     eval.EvaluationTime,
	}
}

func evalMissed(r store.Reason) bool {
	switch r {
	case store.ReasonUnrecognized, store.ReasonUninitialized, store.ReasonInvalidBootstrap:
		return true
	default:
		return false
	}
}

func (c *Client) currentUser() *identity.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) logExposure(e events.Event) {
	c.events.Log(e)
}

// LogEvent records a custom application event alongside exposures.
func (c *Client) LogEvent(name string, value any, metadata map[string]string) {
	if name == "" {
		return
	}
	c.events.Log(events.Event{
		EventName: name,
		User:      c.currentUser().ForLogging(),
		Value:     value,
		Metadata:  metadata,
		Time:      time.Now().UnixMilli(),
	})
}

// OverrideGate forces a gate locally until removed.
func (c *Client) OverrideGate(ctx context.Context, name string, value bool) {
	c.store.OverrideGate(ctx, name, value)
}

// OverrideConfig forces a config or experiment locally until removed.
func (c *Client) OverrideConfig(ctx context.Context, name string, value map[string]any) {
	c.store.OverrideConfig(ctx, name, value)
}

// OverrideLayer forces a layer's parameters locally until removed.
func (c *Client) OverrideLayer(ctx context.Context, name string, value map[string]any) {
	c.store.OverrideLayer(ctx, name, value)
}

// RemoveOverride clears an override by name.
func (c *Client) RemoveOverride(ctx context.Context, name string) {
	c.store.RemoveOverride(ctx, name)
}

// Shutdown flushes pending events through the teardown path and persists
// store state. The client must not be used afterwards.
func (c *Client) Shutdown(ctx context.Context) {
	c.events.Shutdown(ctx)
	c.store.Shutdown(ctx)
}

package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/client"
	"github.com/dmitrymomot/flagkit/pkg/hashing"
	"github.com/dmitrymomot/flagkit/pkg/identity"
	"github.com/dmitrymomot/flagkit/pkg/storage"
	"github.com/dmitrymomot/flagkit/pkg/store"
	"github.com/dmitrymomot/flagkit/pkg/transport"
)

// valuesServer serves a canned values response for every identity and
// records exposure batches posted to /log_event.
type valuesServer struct {
	*httptest.Server
	mu       sync.Mutex
	exposure [][]byte
}

func newValuesServer(t *testing.T, resp store.FetchResponse) *valuesServer {
	t.Helper()
	vs := &valuesServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/initialize", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/log_event", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		vs.mu.Lock()
		vs.exposure = append(vs.exposure, body)
		vs.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	vs.Server = httptest.NewServer(mux)
	return vs
}

func (vs *valuesServer) exposures() []string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]string, len(vs.exposure))
	for i, e := range vs.exposure {
		out[i] = string(e)
	}
	return out
}

func gateValues(name string, value bool) store.FetchResponse {
	h := hashing.DJB2(name)
	return store.FetchResponse{
		FeatureGates: map[string]store.GateRecord{
			h: {Name: h, Value: value, RuleID: "r1"},
		},
		HasUpdates: true,
		Time:       100,
		HashUsed:   "djb2",
	}
}

func fastRetries() client.Option {
	return client.WithTransportOptions(transport.WithRetries(0, time.Millisecond))
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("EmptyKeyRejected", func(t *testing.T) {
		t.Parallel()
		_, err := client.New("")
		assert.ErrorIs(t, err, client.ErrInvalidSDKKey)

		_, err = client.New("   ")
		assert.ErrorIs(t, err, client.ErrInvalidSDKKey)
	})

	t.Run("MalformedLocalSpecsRejected", func(t *testing.T) {
		t.Parallel()
		_, err := client.New("key", client.WithLocalSpecs([]byte("{broken")))
		assert.ErrorIs(t, err, client.ErrInvalidConfiguration)
	})

	t.Run("ValidKey", func(t *testing.T) {
		t.Parallel()
		c, err := client.New("client-key")
		require.NoError(t, err)
		require.NotNil(t, c)
	})
}

func TestInitializeAndCheckGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := newValuesServer(t, gateValues("my_gate", true))
	defer srv.Close()

	c, err := client.New("key",
		client.WithAPIURL(srv.URL),
		client.WithInitTimeout(2*time.Second),
		fastRetries(),
	)
	require.NoError(t, err)
	defer c.Shutdown(ctx)

	require.NoError(t, c.Initialize(ctx, &identity.User{UserID: "u1"}))

	assert.True(t, c.CheckGate("my_gate"))
	assert.False(t, c.CheckGate("unknown_gate"))

	gate := c.GetFeatureGate("my_gate")
	assert.Equal(t, "my_gate", gate.Name())
	assert.Equal(t, "r1", gate.RuleID())
	assert.Equal(t, string(store.ReasonNetwork), gate.Reason())
}

func TestInitializeTimeoutThenEventualApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/initialize", func(w http.ResponseWriter, r *http.Request) {
		<-release
		_ = json.NewEncoder(w).Encode(gateValues("slow_gate", true))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := client.New("key",
		client.WithAPIURL(srv.URL),
		client.WithInitTimeout(20*time.Millisecond),
		fastRetries(),
	)
	require.NoError(t, err)
	defer c.Shutdown(ctx)

	start := time.Now()
	require.NoError(t, c.Initialize(ctx, &identity.User{UserID: "u1"}))
	assert.Less(t, time.Since(start), time.Second, "initialize returns at the timeout")

	// Defaults until the fetch lands.
	gate := c.GetFeatureGate("slow_gate", client.WithoutExposureLogging())
	assert.False(t, gate.Value())
	assert.Equal(t, string(store.ReasonUninitialized), gate.Reason())

	close(release)
	assert.Eventually(t, func() bool {
		return c.CheckGate("slow_gate", client.WithoutExposureLogging())
	}, 2*time.Second, 10*time.Millisecond, "deferred fetch applies when it completes")
}

func TestUpdateUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("BeforeInitialize", func(t *testing.T) {
		t.Parallel()
		c, err := client.New("key", client.WithAPIURL("http://127.0.0.1:1"), fastRetries())
		require.NoError(t, err)
		defer c.Shutdown(ctx)
		assert.ErrorIs(t, c.UpdateUser(ctx, &identity.User{UserID: "u2"}), client.ErrNotInitialized)
	})

	t.Run("SwitchesValues", func(t *testing.T) {
		t.Parallel()
		srv := newValuesServer(t, gateValues("g", true))
		defer srv.Close()

		c, err := client.New("key",
			client.WithAPIURL(srv.URL),
			client.WithInitTimeout(2*time.Second),
			fastRetries(),
		)
		require.NoError(t, err)
		defer c.Shutdown(ctx)

		require.NoError(t, c.Initialize(ctx, &identity.User{UserID: "u1"}))
		require.NoError(t, c.UpdateUser(ctx, &identity.User{UserID: "u2"}))
		assert.True(t, c.CheckGate("g", client.WithoutExposureLogging()))
	})
}

func TestBootstrap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bootstrapFor := func(t *testing.T, userID string) []byte {
		t.Helper()
		resp := gateValues("boot_gate", true)
		resp.EvaluatedKeys = &store.EvaluatedKeys{UserID: userID}
		raw, err := json.Marshal(resp)
		require.NoError(t, err)
		return raw
	}

	t.Run("ValidSnapshotServesValues", func(t *testing.T) {
		t.Parallel()
		c, err := client.New("key",
			client.WithAPIURL("http://127.0.0.1:1"),
			client.WithInitTimeout(10*time.Millisecond),
			client.WithBootstrapValues(bootstrapFor(t, "u1")),
			fastRetries(),
		)
		require.NoError(t, err)
		defer c.Shutdown(ctx)

		require.NoError(t, c.Initialize(ctx, &identity.User{UserID: "u1"}))
		gate := c.GetFeatureGate("boot_gate", client.WithoutExposureLogging())
		assert.True(t, gate.Value())
		assert.Equal(t, string(store.ReasonBootstrap), gate.Reason())
	})

	t.Run("MismatchedSnapshotRejected", func(t *testing.T) {
		t.Parallel()
		c, err := client.New("key",
			client.WithAPIURL("http://127.0.0.1:1"),
			client.WithInitTimeout(10*time.Millisecond),
			client.WithBootstrapValues(bootstrapFor(t, "someone-else")),
			fastRetries(),
		)
		require.NoError(t, err)
		defer c.Shutdown(ctx)

		require.NoError(t, c.Initialize(ctx, &identity.User{UserID: "u1"}))
		gate := c.GetFeatureGate("boot_gate", client.WithoutExposureLogging())
		assert.False(t, gate.Value())
		assert.Equal(t, string(store.ReasonInvalidBootstrap), gate.Reason())
	})
}

func TestLocalSpecsFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	specs := []byte(`{"feature_gates": [{
		"name": "offline_gate", "enabled": true,
		"rules": [{"id": "r1", "passPercentage": 100, "conditions": [{"type": "public"}]}]
	}]}`)

	c, err := client.New("key",
		client.WithAPIURL("http://127.0.0.1:1"),
		client.WithInitTimeout(10*time.Millisecond),
		client.WithLocalSpecs(specs),
		fastRetries(),
	)
	require.NoError(t, err)
	defer c.Shutdown(ctx)

	require.NoError(t, c.Initialize(ctx, &identity.User{UserID: "u1"}))

	gate := c.GetFeatureGate("offline_gate", client.WithoutExposureLogging())
	assert.True(t, gate.Value())
	assert.Equal(t, string(store.ReasonBootstrap), gate.Reason())
	assert.Equal(t, "r1", gate.RuleID())

	// Names the snapshot does not know still default.
	assert.False(t, c.CheckGate("missing_gate", client.WithoutExposureLogging()))
}

func TestOverrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, err := client.New("key",
		client.WithAPIURL("http://127.0.0.1:1"),
		client.WithInitTimeout(10*time.Millisecond),
		fastRetries(),
	)
	require.NoError(t, err)
	defer c.Shutdown(ctx)
	require.NoError(t, c.Initialize(ctx, &identity.User{UserID: "u1"}))

	c.OverrideGate(ctx, "g", true)
	gate := c.GetFeatureGate("g", client.WithoutExposureLogging())
	assert.True(t, gate.Value())
	assert.Equal(t, string(store.ReasonLocalOverride), gate.Reason())

	assert.False(t, c.CheckGate("g", client.WithoutOverrides(), client.WithoutExposureLogging()))

	c.OverrideConfig(ctx, "cfg", map[string]any{"color": "red", "count": 3.0, "on": true})
	cfg := c.GetConfig("cfg", client.WithoutExposureLogging())
	assert.Equal(t, "red", cfg.GetString("color", "blue"))
	assert.Equal(t, 3.0, cfg.GetNumber("count", 0))
	assert.True(t, cfg.GetBool("on", false))
	assert.Equal(t, "fallback", cfg.GetString("absent", "fallback"))

	c.RemoveOverride(ctx, "g")
	assert.Equal(t, string(store.ReasonUnrecognized),
		c.GetFeatureGate("g", client.WithoutExposureLogging()).Reason())
}

func TestLayerParameterExposure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := newValuesServer(t, store.FetchResponse{
		LayerConfigs: map[string]store.ConfigRecord{
			hashing.DJB2("my_layer"): {
				Name:   hashing.DJB2("my_layer"),
				Value:  map[string]any{"title": "hello", "size": 12.0},
				RuleID: "lr",
			},
		},
		HasUpdates: true,
		Time:       100,
		HashUsed:   "djb2",
	})
	defer srv.Close()

	c, err := client.New("key",
		client.WithAPIURL(srv.URL),
		client.WithEventsURL(srv.URL),
		client.WithInitTimeout(2*time.Second),
		fastRetries(),
	)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(ctx, &identity.User{UserID: "u1"}))

	layer := c.GetLayer("my_layer")
	assert.Equal(t, "hello", layer.GetString("title", ""))
	assert.Equal(t, 12.0, layer.GetNumber("size", 0))
	assert.Equal(t, "fb", layer.GetString("absent", "fb"), "missing parameter uses fallback without exposure")

	c.Shutdown(ctx)

	var logged string
	for _, e := range srv.exposures() {
		logged += e
	}
	assert.Contains(t, logged, "layer_exposure")
	assert.Contains(t, logged, `"parameterName":"title"`)
	assert.Contains(t, logged, `"parameterName":"size"`)
	assert.NotContains(t, logged, `"parameterName":"absent"`)
}

func TestExposureLogging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := newValuesServer(t, gateValues("g", true))
	defer srv.Close()

	c, err := client.New("key",
		client.WithAPIURL(srv.URL),
		client.WithEventsURL(srv.URL),
		client.WithInitTimeout(2*time.Second),
		fastRetries(),
	)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(ctx, &identity.User{UserID: "u1"}))

	c.CheckGate("g")
	c.LogEvent("purchase", 9.99, map[string]string{"sku": "sku-1"})
	c.Shutdown(ctx)

	var logged string
	for _, e := range srv.exposures() {
		logged += e
	}
	assert.Contains(t, logged, "gate_exposure")
	assert.Contains(t, logged, "purchase")
	assert.Contains(t, logged, "sku-1")
	assert.Contains(t, logged, "flagkit::diagnostics", "initialize outcome marker is delivered")
}

func TestStableIDPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemory()

	c1, err := client.New("key", client.WithStorage(kv), client.WithAPIURL("http://127.0.0.1:1"),
		client.WithInitTimeout(10*time.Millisecond), fastRetries())
	require.NoError(t, err)
	c1.Shutdown(ctx)

	first, err := kv.Get(ctx, "stable_id:v1")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	c2, err := client.New("key", client.WithStorage(kv), client.WithAPIURL("http://127.0.0.1:1"),
		client.WithInitTimeout(10*time.Millisecond), fastRetries())
	require.NoError(t, err)
	c2.Shutdown(ctx)

	second, err := kv.Get(ctx, "stable_id:v1")
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second), "device identifier survives restarts")
}

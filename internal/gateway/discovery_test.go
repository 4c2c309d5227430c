package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnihq/beacon-client/internal/storage"
)

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	home := t.TempDir()
	return storage.NewStoreAt(
		filepath.Join(home, "secret.key"),
		filepath.Join(home, "identity.blob"),
		filepath.Join(home, "gateways.json"),
		filepath.Join(home, "last_gateway.json"),
	)
}

func gatewayServer(t *testing.T, deviceID, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pair/info" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_id":"` + deviceID + `","name":"` + name + `","version":"1.2.3","persona":"orin","voice":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// collectStates subscribes and records every transition after the initial
// replay.
func collectStates(d *Discovery) *[]State {
	var states []State
	first := true
	d.Subscribe(func(s State) {
		if first {
			first = false
			return
		}
		states = append(states, s)
	})
	return &states
}

func TestSubscribeReplaysCurrentState(t *testing.T) {
	d := NewDiscovery(testStore(t), Options{})

	var replayed []State
	d.Subscribe(func(s State) { replayed = append(replayed, s) })

	require.Len(t, replayed, 1)
	assert.Equal(t, StatusDisconnected, replayed[0].Status)
}

func TestConnectToHealthyGateway(t *testing.T) {
	srv := gatewayServer(t, "g1", "Office")
	store := testStore(t)
	d := NewDiscovery(store, Options{})

	states := collectStates(d)

	require.NoError(t, d.ConnectTo(context.Background(), srv.URL))

	// Exactly Connecting then Connected.
	require.Len(t, *states, 2)
	assert.Equal(t, StatusConnecting, (*states)[0].Status)
	assert.Equal(t, StatusConnected, (*states)[1].Status)
	require.NotNil(t, (*states)[1].Gateway)
	assert.Equal(t, "g1", (*states)[1].Gateway.ID)
	assert.Equal(t, "Office", (*states)[1].Gateway.Name)
	assert.True(t, (*states)[1].Gateway.Voice)

	// Connected gateway is persisted as saved and last-used.
	last, ok, err := store.LoadLastGateway()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g1", last.ID)

	saved, err := store.LoadGateways()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "g1", saved[0].ID)
}

func TestConnectToUnreachableURL(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // dead server: connection refused
	store := testStore(t)
	d := NewDiscovery(store, Options{})

	states := collectStates(d)

	err := d.ConnectTo(context.Background(), srv.URL)
	require.Error(t, err)

	// Exactly Error, no Connecting, no gateway attached.
	require.Len(t, *states, 1)
	assert.Equal(t, StatusError, (*states)[0].Status)
	assert.Nil(t, (*states)[0].Gateway)
	assert.NotEmpty(t, (*states)[0].Err)
	assert.Zero(t, d.registry.Len())
}

func TestConnectToProbe503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	d := NewDiscovery(testStore(t), Options{})

	err := d.ConnectTo(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, StatusError, d.Current().Status)
	assert.Zero(t, d.registry.Len(), "registry must be unchanged after a failed probe")
}

func TestRegistryCollapsesSameGatewayAcrossURLs(t *testing.T) {
	// The same gateway id reachable at two URLs keeps a single entry.
	a := gatewayServer(t, "g1", "Office")
	b := gatewayServer(t, "g1", "Office")
	d := NewDiscovery(testStore(t), Options{})

	require.NoError(t, d.ConnectTo(context.Background(), a.URL))
	require.NoError(t, d.ConnectTo(context.Background(), b.URL))

	assert.Equal(t, 1, d.registry.Len())
	gw, ok := d.registry.Get("g1")
	require.True(t, ok)
	assert.Equal(t, NormalizeURL(b.URL), gw.URL)
}

func TestStartDiscoveryHostedMode(t *testing.T) {
	d := NewDiscovery(testStore(t), Options{HostedURL: "https://hosted.example.com/"})

	states := collectStates(d)
	require.NoError(t, d.StartDiscovery(context.Background()))

	// Hosted mode skips probing entirely.
	require.Len(t, *states, 1)
	require.Equal(t, StatusConnected, (*states)[0].Status)
	require.NotNil(t, (*states)[0].Gateway)
	assert.Equal(t, "https://hosted.example.com", (*states)[0].Gateway.URL)
	assert.True(t, (*states)[0].Gateway.TLS)
}

func TestStartDiscoverySettlesDisconnected(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	store := testStore(t)
	// A recorded last-used gateway that is no longer reachable.
	require.NoError(t, store.SaveLastGateway(storage.SavedGateway{ID: "gone", URL: deadURL, Source: "manual"}))

	d := NewDiscovery(store, Options{})
	states := collectStates(d)

	require.NoError(t, d.StartDiscovery(context.Background()))

	require.NotEmpty(t, *states)
	assert.Equal(t, StatusDiscovering, (*states)[0].Status)
	assert.Equal(t, StatusDisconnected, (*states)[len(*states)-1].Status)
}

func TestStartDiscoveryConnectsToLastUsed(t *testing.T) {
	srv := gatewayServer(t, "g1", "Office")
	store := testStore(t)
	require.NoError(t, store.SaveLastGateway(storage.SavedGateway{ID: "g1", URL: srv.URL, Source: "manual"}))

	d := NewDiscovery(store, Options{})
	require.NoError(t, d.StartDiscovery(context.Background()))

	state := d.Current()
	require.Equal(t, StatusConnected, state.Status)
	assert.Equal(t, "g1", state.Gateway.ID)
}

func TestStartDiscoveryLoadsSavedGateways(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.SaveGateway(storage.SavedGateway{ID: "g9", URL: "http://unreachable.invalid", Name: "Old", Source: "manual"}))

	d := NewDiscovery(store, Options{})
	_ = d.StartDiscovery(context.Background())

	gw, ok := d.registry.Get("g9")
	require.True(t, ok)
	assert.Equal(t, SourceSaved, gw.Source)
}

type fakeBroadcast struct {
	ch chan Found
}

func (f *fakeBroadcast) Events() <-chan Found { return f.ch }

func TestBroadcastEventsPopulateRegistry(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	store := testStore(t)
	require.NoError(t, store.SaveLastGateway(storage.SavedGateway{ID: "gone", URL: deadURL, Source: "manual"}))

	src := &fakeBroadcast{ch: make(chan Found, 1)}
	d := NewDiscovery(store, Options{Broadcast: src})
	t.Cleanup(d.Close)

	require.NoError(t, d.StartDiscovery(context.Background()))
	before := d.Current().Status

	src.ch <- Found{DeviceID: "b1", Name: "Living Room", Host: "192.168.1.20", Port: 18790, Version: "1.0.0", TLS: false}

	require.Eventually(t, func() bool {
		_, ok := d.registry.Get("b1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	gw, _ := d.registry.Get("b1")
	assert.Equal(t, "http://192.168.1.20:18790", gw.URL)
	assert.Equal(t, SourceBroadcast, gw.Source)
	// Broadcast events never change the connection state.
	assert.Equal(t, before, d.Current().Status)
}

func TestDisconnectFromAnyState(t *testing.T) {
	srv := gatewayServer(t, "g1", "Office")
	d := NewDiscovery(testStore(t), Options{})

	require.NoError(t, d.ConnectTo(context.Background(), srv.URL))
	require.Equal(t, StatusConnected, d.Current().Status)

	d.Disconnect()
	assert.Equal(t, StatusDisconnected, d.Current().Status)
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"example.com:18790":         "http://example.com:18790",
		"http://example.com/":       "http://example.com",
		"https://example.com/path/": "https://example.com/path",
		"  http://x  ":              "http://x",
		"":                          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeURL(in), "input %q", in)
	}
}

func TestConnectKeepsPairingToken(t *testing.T) {
	srv := gatewayServer(t, "g1", "Office")
	store := testStore(t)

	// Pairing stored the credential on both records.
	paired := storage.SavedGateway{ID: "g1", URL: srv.URL, Source: "manual", Token: "paired-token"}
	require.NoError(t, store.SaveGateway(paired))
	require.NoError(t, store.SaveLastGateway(paired))

	d := NewDiscovery(store, Options{})
	require.NoError(t, d.StartDiscovery(context.Background()))
	require.Equal(t, StatusConnected, d.Current().Status)

	last, ok, err := store.LoadLastGateway()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "paired-token", last.Token, "reconnecting must not wipe the pairing token")

	list, err := store.LoadGateways()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "paired-token", list[0].Token)
}

func TestStartDiscoveryFallsBackToSidecar(t *testing.T) {
	srv := gatewayServer(t, "g-side", "Sidecar")

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	store := testStore(t)
	require.NoError(t, store.SaveLastGateway(storage.SavedGateway{ID: "gone", URL: deadURL, Source: "manual"}))

	side := NewSidecar(SidecarOptions{
		BinaryPath:   fakeGatewayBinary(t),
		URL:          srv.URL,
		PollInterval: 10 * time.Millisecond,
	})
	d := NewDiscovery(store, Options{Sidecar: side})
	defer d.Close()

	require.NoError(t, d.StartDiscovery(context.Background()))

	state := d.Current()
	require.Equal(t, StatusConnected, state.Status)
	assert.Equal(t, "g-side", state.Gateway.ID)
	assert.True(t, d.SidecarRunning())

	// Close owns the sidecar lifecycle.
	d.Close()
	require.Eventually(t, func() bool { return !side.Running() },
		2*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	d := NewDiscovery(testStore(t), Options{})
	d.Close()
	d.Close()
}

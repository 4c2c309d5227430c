package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnihq/beacon-client/internal/gateway"
	"github.com/omnihq/beacon-client/internal/protocol/wire"
)

// staticStates is a StateSource pinned to one state.
type staticStates struct {
	state gateway.State
}

func (s staticStates) Current() gateway.State { return s.state }

func connectedTo(url string) staticStates {
	return staticStates{state: gateway.State{
		Status:  gateway.StatusConnected,
		Gateway: &gateway.Gateway{ID: "gw-test", URL: url, Name: "Test Gateway"},
	}}
}

func TestClientAttachesAuthHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := NewClient(connectedTo(srv.URL), "device-abc")
	client.SetSessionID("session-1")
	client.SetToken("tok-123")

	_, err := client.GetStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "device-abc", got.Get("X-Device-Id"))
	assert.Equal(t, "session-1", got.Get("X-Session-Id"))
	assert.Equal(t, "Bearer tok-123", got.Get("Authorization"))
}

func TestClientOmitsEmptyAuthHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(connectedTo(srv.URL), "device-abc")

	_, err := client.GetStatus(context.Background())
	require.NoError(t, err)

	_, hasSession := got["X-Session-Id"]
	_, hasAuth := got["Authorization"]
	assert.False(t, hasSession, "X-Session-Id must be absent without a session")
	assert.False(t, hasAuth, "Authorization must be absent without a token")
}

func TestClientNotConnected(t *testing.T) {
	client := NewClient(staticStates{state: gateway.State{Status: gateway.StatusDisconnected}}, "device-abc")

	_, err := client.GetStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestClientJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"device not paired"}`))
	}))
	defer srv.Close()

	client := NewClient(connectedTo(srv.URL), "device-abc")

	_, err := client.GetPersonas(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "device not paired", apiErr.Message)
}

func TestClientHTMLErrorBodyDoesNotLeakMarkup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html><body><h1>502 Bad Gateway</h1></body></html>`))
	}))
	defer srv.Close()

	client := NewClient(connectedTo(srv.URL), "device-abc")

	_, err := client.GetStatus(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "gateway unavailable", apiErr.Message)
	assert.NotContains(t, err.Error(), "<")
}

func TestClientConfirmPair(t *testing.T) {
	var got wire.PairConfirmRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/pair/confirm", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(wire.PairConfirmResponse{Token: "paired-token"})
	}))
	defer srv.Close()

	// Pairing happens before any connection state exists.
	client := NewClient(staticStates{state: gateway.State{Status: gateway.StatusDisconnected}}, "device-abc")

	resp, err := client.ConfirmPair(context.Background(), srv.URL, wire.PairConfirmRequest{
		Code:       "482913",
		DeviceID:   "device-abc",
		DeviceName: "laptop",
		Platform:   "linux",
	})
	require.NoError(t, err)
	assert.Equal(t, "paired-token", resp.Token)
	assert.Equal(t, "482913", got.Code)
	assert.Equal(t, "device-abc", got.DeviceID)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "device-abc",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func TestTokenExpiresWithin(t *testing.T) {
	client := NewClient(staticStates{}, "device-abc")

	client.SetToken(signedToken(t, time.Now().Add(30*time.Second)))
	assert.True(t, client.TokenExpiresWithin(time.Minute))
	assert.False(t, client.TokenExpiresWithin(time.Second))

	client.SetToken(signedToken(t, time.Now().Add(24*time.Hour)))
	assert.False(t, client.TokenExpiresWithin(time.Minute))

	// Opaque tokens are never reported as expiring; the gateway decides.
	client.SetToken("not-a-jwt")
	assert.False(t, client.TokenExpiresWithin(time.Minute))

	client.SetToken("")
	assert.False(t, client.TokenExpiresWithin(time.Minute))
}

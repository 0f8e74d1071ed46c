package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncTypes "github.com/stashware/inventory-sync/internal/sync"
)

type fakeSource struct {
	state syncTypes.SyncState
	peers []syncTypes.PeerInfo
}

func (f *fakeSource) State() syncTypes.SyncState  { return f.state }
func (f *fakeSource) Peers() []syncTypes.PeerInfo { return f.peers }

func TestStatusEndpoint(t *testing.T) {
	cursor := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	peer := syncTypes.PeerInfo{Host: "192.168.1.20", Port: 9002, DisplayName: "beta"}
	source := &fakeSource{
		state: syncTypes.SyncState{
			Status:            syncTypes.StatusSynced,
			ActivePeer:        &peer,
			LastSyncTimestamp: &cursor,
		},
		peers: []syncTypes.PeerInfo{peer},
	}

	srv := NewServer(source, "device-1", "1.2.3", nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))

	assert.Equal(t, "device-1", got.DeviceID)
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, syncTypes.StatusSynced, got.State.Status)
	require.NotNil(t, got.State.ActivePeer)
	assert.Equal(t, "192.168.1.20:9002", got.State.ActivePeer.Key())
	require.Len(t, got.Peers, 1)
	assert.Equal(t, "beta", got.Peers[0].DisplayName)
}

func TestStatusPeersListIsNeverNull(t *testing.T) {
	source := &fakeSource{state: syncTypes.SyncState{Status: syncTypes.StatusStandalone}}

	srv := NewServer(source, "device-1", "dev", nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.JSONEq(t, `[]`, string(body["peers"]))
}

func TestStatusMethodNotAllowed(t *testing.T) {
	srv := NewServer(&fakeSource{}, "device-1", "dev", nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/status", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := NewServer(&fakeSource{}, "device-1", "dev", nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "invsync_test_total"})
	registry.MustRegister(counter)
	counter.Inc()

	srv := NewServer(&fakeSource{}, "device-1", "dev", registry, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "invsync_test_total 1")
}

func TestMetricsRouteAbsentWithoutGatherer(t *testing.T) {
	srv := NewServer(&fakeSource{}, "device-1", "dev", nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

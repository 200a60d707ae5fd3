package q3pmonitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitqkd/q3pcore/internal/keydb"
	"github.com/aitqkd/q3pcore/internal/q3pengine"
)

func newTestEngine() *q3pengine.Engine {
	cs := keydb.NewRAMStore(0, 10, 128)
	in := keydb.NewRAMStore(0, 500, 32)
	out := keydb.NewRAMStore(0, 500, 32)
	app := keydb.NewRAMStore(0, 500, 32)
	e := q3pengine.New(cs, in, out, app, zerolog.Nop())
	e.Master, e.Slave = true, false
	e.AuthIncoming, e.AuthOutgoing = "poly1305-in", "poly1305-out"
	e.EncIncoming, e.EncOutgoing = "chacha20-in", "chacha20-out"
	return e
}

func TestStatusHandlerReportsControlSurface(t *testing.T) {
	m := New(newTestEngine(), "tcp://*:9303", "tcp://10.0.0.2:9303")
	srv := httptest.NewServer(m.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Master)
	assert.False(t, got.Slave)
	assert.Equal(t, "open", got.State)
	assert.Equal(t, "poly1305-in", got.AuthenticationSchemeIncoming)
	assert.Equal(t, "tcp://*:9303", got.URLListen)
	assert.Equal(t, "tcp://10.0.0.2:9303", got.URLPeer)
	assert.Contains(t, got.ChargeString, "<<C:")
}

func TestStatusHandlerRejectsNonGet(t *testing.T) {
	m := New(newTestEngine(), "", "")
	srv := httptest.NewServer(m.Mux())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthHandler(t *testing.T) {
	m := New(newTestEngine(), "", "")
	srv := httptest.NewServer(m.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "healthy", got["status"])
}

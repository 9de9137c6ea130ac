package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rechain/chatnode/internal/api"
	"github.com/rechain/chatnode/internal/gossip"
	"github.com/rechain/chatnode/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSink struct{}

func (nopSink) MessageReceived(message.Message)    {}
func (nopSink) PeerDiscovered(string, string, int) {}
func (nopSink) PeerStatusChanged(string, bool)     {}

func newTestServer(t *testing.T) (*httptest.Server, *gossip.Engine) {
	t.Helper()
	e := gossip.New(nopSink{}, gossip.DefaultConfig())
	e.SetNodeID("A")
	require.NoError(t, e.Start(19901))
	t.Cleanup(e.Stop)

	srv := api.NewServer(e)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, e
}

func TestStatusReportsNodeID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "A", body["node_id"])
	assert.Equal(t, float64(0), body["active_peers"])
}

func TestPeersEndpointReflectsRegistry(t *testing.T) {
	ts, e := newTestServer(t)
	e.AddPeer("B", "127.0.0.1", 19902)

	resp, err := http.Get(ts.URL + "/peers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["count"])
}

func TestClockEndpointReturnsSnapshot(t *testing.T) {
	ts, e := newTestServer(t)
	e.AddPeer("B", "127.0.0.1", 19903)
	_, err := e.Send("hi", "B")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/clock")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body["A"])
}

func TestHistoryEndpointListsMessageIDs(t *testing.T) {
	ts, e := newTestServer(t)
	e.AddPeer("B", "127.0.0.1", 19904)
	m, err := e.Send("hi", "B")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	ids, ok := body["message_ids"].([]interface{})
	require.True(t, ok)
	require.Len(t, ids, 1)
	assert.Equal(t, m.MessageId, ids[0])
}

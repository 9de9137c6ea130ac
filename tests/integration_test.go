package tests

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rechain/chatnode/internal/api"
	"github.com/rechain/chatnode/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestThreeNodeConvergence wires three engines together the way cmd/chatnode
// does and verifies a broadcast from one reaches the other two, via direct
// delivery or anti-entropy, and that the introspection API reflects it.
func TestThreeNodeConvergence(t *testing.T) {
	cfg := testutil.FastConfig()

	a := testutil.NewTestNode(t, "Node1", 29101, &cfg)
	b := testutil.NewTestNode(t, "Node2", 29102, &cfg)
	c := testutil.NewTestNode(t, "Node3", 29103, &cfg)

	testutil.Pair(a, b, 29101, 29102)
	testutil.Pair(a, c, 29101, 29103)
	testutil.Pair(b, c, 29102, 29103)

	_, err := a.Engine.Send("hello everyone", "broadcast")
	require.NoError(t, err)

	testutil.Eventually(t, 2*time.Second, func() bool {
		return len(b.Sink.ReceivedSnapshot()) >= 1 && len(c.Sink.ReceivedSnapshot()) >= 1
	})

	for _, node := range []*testutil.TestNode{b, c} {
		msgs := node.Sink.ReceivedSnapshot()
		require.Len(t, msgs, 1)
		assert.Equal(t, "hello everyone", msgs[0].ChatText)
		assert.Equal(t, "Node1", msgs[0].Origin)
	}

	srv := api.NewServer(a.Engine)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "Node1", status["node_id"])
	assert.Equal(t, float64(1), status["history_size"])
	assert.Equal(t, float64(2), status["active_peers"])
}

// TestUnicastDeliveryAndAck exercises the unicast-with-ack round trip
// between two engines: the addressee receives the message and the sender
// keeps it in its history.
func TestUnicastDeliveryAndAck(t *testing.T) {
	cfg := testutil.FastConfig()

	a := testutil.NewTestNode(t, "Node1", 29111, &cfg)
	b := testutil.NewTestNode(t, "Node2", 29112, &cfg)
	testutil.Pair(a, b, 29111, 29112)

	m, err := a.Engine.Send("direct message", "Node2")
	require.NoError(t, err)

	testutil.Eventually(t, time.Second, func() bool {
		return len(b.Sink.ReceivedSnapshot()) == 1
	})

	msgs := b.Sink.ReceivedSnapshot()
	assert.Equal(t, "direct message", msgs[0].ChatText)
	assert.Equal(t, m.MessageId, msgs[0].MessageId)

	time.Sleep(cfg.AckCheckInterval * 3)
	assert.True(t, a.Engine.History().Has(m.MessageId))
}

// TestDiscoverRegistersRespondingPeers exercises the discover entry point
// against a mix of live and silent ports.
func TestDiscoverRegistersRespondingPeers(t *testing.T) {
	cfg := testutil.FastConfig()

	a := testutil.NewTestNode(t, "Node1", 29121, &cfg)
	b := testutil.NewTestNode(t, "Node2", 29122, &cfg)

	a.Engine.Discover([]int{29121, 29122, 29999})

	testutil.Eventually(t, time.Second, func() bool {
		_, ok := a.Engine.Registry().Lookup(b.Engine.NodeID())
		return ok
	})

	peer, ok := a.Engine.Registry().Lookup(b.Engine.NodeID())
	require.True(t, ok)
	assert.Equal(t, 29122, peer.Port)

	_, ok = a.Engine.Registry().Lookup("Node9999")
	assert.False(t, ok)
}

// Package testutil provides shared helpers for spinning up gossip engines
// in tests and polling for eventual-consistency conditions.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/rechain/chatnode/internal/gossip"
	"github.com/rechain/chatnode/pkg/message"
)

// RecordingSink is an EventSink that records every event for later
// assertion, safe for concurrent use by the engine's actor goroutine and
// the test goroutine.
type RecordingSink struct {
	mu         sync.Mutex
	Received   []message.Message
	Discovered []string
	StatusLog  []string
}

func (s *RecordingSink) MessageReceived(m message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Received = append(s.Received, m)
}

func (s *RecordingSink) PeerDiscovered(peerID, host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Discovered = append(s.Discovered, peerID)
}

func (s *RecordingSink) PeerStatusChanged(peerID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	suffix := "down"
	if active {
		suffix = "up"
	}
	s.StatusLog = append(s.StatusLog, peerID+":"+suffix)
}

// ReceivedSnapshot returns a copy of the messages recorded so far.
func (s *RecordingSink) ReceivedSnapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.Received))
	copy(out, s.Received)
	return out
}

// TestNode bundles a running engine with its recording sink.
type TestNode struct {
	T      *testing.T
	Engine *gossip.Engine
	Sink   *RecordingSink
}

// NewTestNode starts a gossip engine with id, bound to port on loopback,
// using cfg (or gossip.DefaultConfig if cfg is nil). Stop is registered via
// t.Cleanup.
func NewTestNode(t *testing.T, id string, port int, cfg *gossip.Config) *TestNode {
	t.Helper()

	c := gossip.DefaultConfig()
	if cfg != nil {
		c = *cfg
	}

	sink := &RecordingSink{}
	e := gossip.New(sink, c)
	e.SetNodeID(id)
	if err := e.Start(port); err != nil {
		t.Fatalf("failed to start engine %s on port %d: %v", id, port, err)
	}
	t.Cleanup(e.Stop)

	return &TestNode{T: t, Engine: e, Sink: sink}
}

// Pair connects two TestNodes to each other by registering each as the
// other's peer.
func Pair(a, b *TestNode, aPort, bPort int) {
	a.Engine.AddPeer(b.Engine.NodeID(), "127.0.0.1", bPort)
	b.Engine.AddPeer(a.Engine.NodeID(), "127.0.0.1", aPort)
}

// Eventually polls cond until it returns true or timeout elapses, failing
// the test otherwise.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// FastConfig returns a gossip.Config with short intervals, suitable for
// tests that need to observe retries or anti-entropy rounds without
// waiting out the production defaults.
func FastConfig() gossip.Config {
	return gossip.Config{
		AckTimeout:          80 * time.Millisecond,
		AckCheckInterval:    20 * time.Millisecond,
		MaxRetries:          3,
		AntiEntropyInterval: 60 * time.Millisecond,
		PeerHealthInterval:  40 * time.Millisecond,
		PeerTimeout:         120 * time.Millisecond,
	}
}

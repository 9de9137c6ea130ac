package registry_test

import (
	"testing"
	"time"

	"github.com/rechain/chatnode/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	discovered []string
	statusLog  []string
}

func (s *recordingSink) PeerDiscovered(peerID, host string, port int) {
	s.discovered = append(s.discovered, peerID)
}

func (s *recordingSink) PeerStatusChanged(peerID string, active bool) {
	if active {
		s.statusLog = append(s.statusLog, peerID+":up")
	} else {
		s.statusLog = append(s.statusLog, peerID+":down")
	}
}

func TestAddEmitsPeerDiscoveredOnce(t *testing.T) {
	sink := &recordingSink{}
	r := registry.New("self", sink)
	now := time.Now()

	r.Add("B", "127.0.0.1", 9002, now)
	r.Add("B", "127.0.0.1", 9002, now.Add(time.Second))

	assert.Equal(t, []string{"B"}, sink.discovered)
}

func TestAddRejectsSelf(t *testing.T) {
	sink := &recordingSink{}
	r := registry.New("self", sink)

	r.Add("self", "127.0.0.1", 9001, time.Now())

	_, ok := r.Lookup("self")
	assert.False(t, ok)
	assert.Empty(t, sink.discovered)
}

func TestAddSetsActiveAndLastSeen(t *testing.T) {
	sink := &recordingSink{}
	r := registry.New("self", sink)
	now := time.Now()

	r.Add("B", "127.0.0.1", 9002, now)

	p, ok := r.Lookup("B")
	require.True(t, ok)
	assert.True(t, p.Active)
	assert.Equal(t, now, p.LastSeen)
}

func TestTouchFlipsInactiveToActiveAndEmits(t *testing.T) {
	sink := &recordingSink{}
	r := registry.New("self", sink)
	start := time.Now()

	r.Add("B", "127.0.0.1", 9002, start)
	r.Sweep(start.Add(20*time.Second), 15*time.Second)
	assert.Equal(t, []string{"B:down"}, sink.statusLog)

	r.Touch("B", start.Add(21*time.Second))
	assert.Equal(t, []string{"B:down", "B:up"}, sink.statusLog)

	p, _ := r.Lookup("B")
	assert.True(t, p.Active)
}

func TestTouchOnAlreadyActivePeerDoesNotReemit(t *testing.T) {
	sink := &recordingSink{}
	r := registry.New("self", sink)
	now := time.Now()

	r.Add("B", "127.0.0.1", 9002, now)
	r.Touch("B", now.Add(time.Second))

	assert.Empty(t, sink.statusLog)
}

func TestSweepMarksOnlyExpiredPeersInactive(t *testing.T) {
	sink := &recordingSink{}
	r := registry.New("self", sink)
	now := time.Now()

	r.Add("B", "127.0.0.1", 9002, now)
	r.Add("C", "127.0.0.1", 9003, now)
	r.Touch("C", now.Add(10*time.Second))

	r.Sweep(now.Add(16*time.Second), 15*time.Second)

	pb, _ := r.Lookup("B")
	pc, _ := r.Lookup("C")
	assert.False(t, pb.Active)
	assert.True(t, pc.Active)
	assert.Equal(t, []string{"B:down"}, sink.statusLog)
}

func TestActivePeersOmitsInactive(t *testing.T) {
	sink := &recordingSink{}
	r := registry.New("self", sink)
	now := time.Now()

	r.Add("B", "127.0.0.1", 9002, now)
	r.Add("C", "127.0.0.1", 9003, now)
	r.Sweep(now.Add(20*time.Second), 15*time.Second)

	active := r.ActivePeers()
	assert.Empty(t, active)
}

func TestLookupUnknownPeer(t *testing.T) {
	sink := &recordingSink{}
	r := registry.New("self", sink)
	_, ok := r.Lookup("ghost")
	assert.False(t, ok)
}

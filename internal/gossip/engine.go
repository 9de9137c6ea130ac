// Package gossip implements the single-actor gossip engine: sequencing,
// unicast retry with acknowledgements, broadcast fan-out, anti-entropy
// reconciliation, and peer-health sweeps over a loopback UDP socket.
package gossip

import (
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rechain/chatnode/internal/history"
	"github.com/rechain/chatnode/internal/registry"
	"github.com/rechain/chatnode/pkg/message"
	"github.com/rechain/chatnode/pkg/vclock"
)

// Config holds the engine's tunable timing constants. The zero value is not
// usable; construct one with DefaultConfig and override individual fields.
type Config struct {
	AckTimeout          time.Duration
	AckCheckInterval    time.Duration
	MaxRetries          int
	AntiEntropyInterval time.Duration
	PeerHealthInterval  time.Duration
	PeerTimeout         time.Duration
}

// DefaultConfig returns the verbatim defaults required by spec §4.E.
func DefaultConfig() Config {
	return Config{
		AckTimeout:          2000 * time.Millisecond,
		AckCheckInterval:    1000 * time.Millisecond,
		MaxRetries:          3,
		AntiEntropyInterval: 2000 * time.Millisecond,
		PeerHealthInterval:  5000 * time.Millisecond,
		PeerTimeout:         15000 * time.Millisecond,
	}
}

// EventSink receives the three outbound events the engine surfaces to its
// application layer. It also satisfies registry.Events.
type EventSink interface {
	MessageReceived(m message.Message)
	PeerDiscovered(peerID, host string, port int)
	PeerStatusChanged(peerID string, active bool)
}

type pendingKey struct {
	messageID    string
	targetPeerID string
}

type pendingEntry struct {
	msg        message.Message
	targetPeer string
	sentTime   time.Time
	retryCount int
}

// Engine is the gossip engine. A single value owns the history store,
// vector clock, peer registry, pending-ack table and next-sequence map; all
// mutation happens on the actor goroutine started by Start.
type Engine struct {
	cfg    Config
	sink   EventSink
	runID  string
	selfID string

	history  *history.Store
	clock    *vclock.Clock
	registry *registry.Registry

	pending map[pendingKey]*pendingEntry
	nextSeq map[string]int

	conn     *net.UDPConn
	bindPort int

	cmdCh chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New constructs an Engine bound to no socket yet. Call SetNodeID, then
// Start, before using the public send/discover/add-peer entry points.
func New(sink EventSink, cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		sink:    sink,
		runID:   uuid.New().String(),
		history: history.New(),
		clock:   vclock.New(),
		pending: make(map[pendingKey]*pendingEntry),
		nextSeq: make(map[string]int),
	}
}

// SetNodeID sets the engine's own identity. Must be called before Start.
func (e *Engine) SetNodeID(id string) {
	e.selfID = id
}

// Start binds a UDP socket to loopback on bindPort and starts the actor
// goroutine, the inbound read loop, and the three periodic timers.
func (e *Engine) Start(bindPort int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("gossip: engine already started")
	}

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: bindPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("gossip: bind %d: %w", bindPort, err)
	}

	e.conn = conn
	e.bindPort = bindPort
	e.registry = registry.New(e.selfID, e.sink)
	e.cmdCh = make(chan func(), 256)
	e.quit = make(chan struct{})
	e.started = true

	e.wg.Add(2)
	go e.readLoop()
	go e.run()

	log.Printf("gossip[%s]: node %s listening on 127.0.0.1:%d", e.runID, e.selfID, bindPort)
	return nil
}

// Stop tears down the socket, timers, and actor goroutine.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	close(e.quit)
	e.conn.Close()
	e.wg.Wait()
}

// post hands fn to the actor goroutine and blocks until it has run.
func (e *Engine) post(fn func()) {
	done := make(chan struct{})
	e.cmdCh <- func() {
		fn()
		close(done)
	}
	<-done
}

// AddPeer registers a peer by address, delegating to the registry.
func (e *Engine) AddPeer(peerID, host string, port int) {
	e.post(func() {
		e.registry.Add(peerID, host, port, time.Now())
	})
}

// Discover probes every port in ports other than the bound port with an
// anti_entropy_request, doubling as a liveness probe.
func (e *Engine) Discover(ports []int) {
	e.post(func() {
		clock := e.clock.Snapshot()
		for _, port := range ports {
			if port == e.bindPort {
				continue
			}
			probe := message.New("", e.selfID, "discovery", 0, message.AntiEntropyRequest, clock)
			e.sendTo(probe, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
		}
	})
}

// Send sequences, stores, and transmits a user-supplied chat message.
// origin is always overridden to self; destination is normalized to the
// canonical broadcast sentinel when the caller used either recognized form.
func (e *Engine) Send(chatText, destination string) (message.Message, error) {
	var result message.Message
	var sendErr error

	e.post(func() {
		if destination == "" {
			sendErr = fmt.Errorf("gossip: destination must not be empty")
			return
		}

		seqKey := destination
		if message.IsBroadcast(destination) {
			seqKey = message.BroadcastSentinel
			destination = message.BroadcastSentinel
		}

		seq := e.nextSeq[seqKey]
		if seq == 0 {
			seq = 1
		}
		e.nextSeq[seqKey] = seq + 1

		e.clock.Update(e.selfID, seq)
		m := message.New(chatText, e.selfID, destination, seq, message.Chat, e.clock.Snapshot())
		e.history.Insert(m)

		if message.IsBroadcast(destination) {
			for _, peerID := range e.registry.ActivePeers() {
				e.sendToPeer(m, peerID)
			}
			result = m
			return
		}

		if _, known := e.registry.Lookup(destination); !known {
			log.Printf("gossip[%s]: unicast send to unknown peer %q dropped", e.runID, destination)
			result = m
			return
		}

		e.unicastWithRetry(m, destination)
		result = m
	})

	return result, sendErr
}

// unicastWithRetry transmits m to targetPeer and installs a pending-ack
// entry keyed on (message id, target peer), per the resolution of the
// pending-ack collision open question in spec §9.
func (e *Engine) unicastWithRetry(m message.Message, targetPeer string) {
	e.sendToPeer(m, targetPeer)
	e.pending[pendingKey{m.MessageId, targetPeer}] = &pendingEntry{
		msg:        m,
		targetPeer: targetPeer,
		sentTime:   time.Now(),
		retryCount: 0,
	}
}

// sendToPeer addresses m to a peer known to the registry. Unknown peers are
// logged and dropped.
func (e *Engine) sendToPeer(m message.Message, peerID string) {
	p, ok := e.registry.Lookup(peerID)
	if !ok {
		log.Printf("gossip[%s]: send to unknown peer %q dropped", e.runID, peerID)
		return
	}
	e.sendTo(m, &net.UDPAddr{IP: net.ParseIP(p.Host), Port: p.Port})
}

// sendTo encodes and transmits m to addr. Transmit failures are logged;
// retry bookkeeping, if any, is the caller's responsibility.
func (e *Engine) sendTo(m message.Message, addr *net.UDPAddr) {
	wire, err := message.Encode(m)
	if err != nil {
		log.Printf("gossip[%s]: encode failed for %s: %v", e.runID, m.MessageId, err)
		return
	}
	if _, err := e.conn.WriteToUDP(wire, addr); err != nil {
		log.Printf("gossip[%s]: transmit to %s failed: %v", e.runID, addr, err)
	}
}

// readLoop owns the UDP socket's receive side and posts each inbound
// datagram to the actor goroutine as a closure.
func (e *Engine) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.quit:
				return
			default:
				return
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case e.cmdCh <- func() { e.handleInbound(data, addr) }:
		case <-e.quit:
			return
		}
	}
}

// run is the actor goroutine: the sole mutator of history, clock, registry,
// pending-ack table, and next-sequence map.
func (e *Engine) run() {
	defer e.wg.Done()

	ackTicker := time.NewTicker(e.cfg.AckCheckInterval)
	antiEntropyTicker := time.NewTicker(e.cfg.AntiEntropyInterval)
	healthTicker := time.NewTicker(e.cfg.PeerHealthInterval)
	defer ackTicker.Stop()
	defer antiEntropyTicker.Stop()
	defer healthTicker.Stop()

	for {
		select {
		case <-e.quit:
			return
		case fn := <-e.cmdCh:
			fn()
		case <-ackTicker.C:
			e.sweepAcks(time.Now())
		case <-antiEntropyTicker.C:
			e.performAntiEntropy()
		case <-healthTicker.C:
			e.registry.Sweep(time.Now(), e.cfg.PeerTimeout)
		}
	}
}

// sweepAcks re-sends or drops every pending-ack entry older than AckTimeout.
func (e *Engine) sweepAcks(now time.Time) {
	for key, entry := range e.pending {
		if now.Sub(entry.sentTime) <= e.cfg.AckTimeout {
			continue
		}
		if entry.retryCount < e.cfg.MaxRetries {
			entry.retryCount++
			entry.sentTime = now
			e.sendToPeer(entry.msg, entry.targetPeer)
			continue
		}
		delete(e.pending, key)
	}
}

// performAntiEntropy picks one active peer uniformly at random and sends it
// an anti_entropy_request carrying the current vector clock.
func (e *Engine) performAntiEntropy() {
	active := e.registry.ActivePeers()
	if len(active) == 0 {
		return
	}
	peerID := active[randIndex(len(active))]
	req := message.New("", e.selfID, peerID, 0, message.AntiEntropyRequest, e.clock.Snapshot())
	e.sendToPeer(req, peerID)
}

// handleInbound decodes and dispatches one received datagram.
func (e *Engine) handleInbound(data []byte, addr *net.UDPAddr) {
	m, ok := message.Decode(data)
	if !ok {
		return
	}
	if m.Origin == e.selfID {
		return
	}

	now := time.Now()
	if _, known := e.registry.Lookup(m.Origin); !known {
		e.registry.Add(m.Origin, addr.IP.String(), addr.Port, now)
	} else {
		e.registry.Touch(m.Origin, now)
	}

	switch m.Type {
	case message.Chat:
		e.handleChat(m)
	case message.AntiEntropyRequest:
		e.handleAntiEntropyRequest(m, addr)
	case message.AntiEntropyResponse:
		e.handleAntiEntropyResponse(m)
	case message.Ack:
		e.handleAck(m)
	}
}

func (e *Engine) handleChat(m message.Message) {
	if !e.history.Has(m.MessageId) {
		e.history.Insert(m)
		e.clock.Update(m.Origin, m.SequenceNumber)
		if m.Destination == e.selfID || message.IsBroadcast(m.Destination) {
			e.sink.MessageReceived(m)
		}
	}
	if m.Destination == e.selfID {
		e.sendAck(m.MessageId, m.Origin)
	}
}

func (e *Engine) sendAck(messageID, toPeerID string) {
	ack := message.Message{
		Origin:      e.selfID,
		Destination: toPeerID,
		Type:        message.Ack,
		MessageId:   messageID,
		VectorClock: map[string]int{},
	}
	e.sendToPeer(ack, toPeerID)
}

func (e *Engine) handleAntiEntropyRequest(m message.Message, addr *net.UDPAddr) {
	missing := e.history.MissingFor(m.VectorClock)

	response := message.New("", e.selfID, m.Origin, 0, message.AntiEntropyResponse, e.clock.Snapshot())
	e.sendTo(response, addr)

	for _, miss := range missing {
		e.sendTo(miss, addr)
	}
}

func (e *Engine) handleAntiEntropyResponse(m message.Message) {
	missing := e.history.MissingFor(m.VectorClock)
	for _, miss := range missing {
		e.unicastWithRetry(miss, m.Origin)
	}
}

func (e *Engine) handleAck(m message.Message) {
	delete(e.pending, pendingKey{m.MessageId, m.Origin})
}

// History exposes a read-only view for the introspection API.
func (e *Engine) History() *history.Store { return e.history }

// Clock exposes a read-only view for the introspection API.
func (e *Engine) Clock() *vclock.Clock { return e.clock }

// Registry exposes a read-only view for the introspection API.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// NodeID returns the engine's configured identity.
func (e *Engine) NodeID() string { return e.selfID }

func randIndex(n int) int {
	bound := big.NewInt(int64(n))
	idx, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return 0
	}
	return int(idx.Int64())
}

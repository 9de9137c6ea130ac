// Command chatnode runs a single gossip chat node bound to loopback.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rechain/chatnode/internal/api"
	"github.com/rechain/chatnode/internal/gossip"
	"github.com/rechain/chatnode/pkg/config"
	"github.com/rechain/chatnode/pkg/message"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cobra.Command {
	var (
		port       int
		peersCSV   string
		nodeID     string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "chatnode",
		Short: "Run a peer-to-peer gossip chat node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(port, peersCSV, nodeID, configPath, cmd.Flags().Changed("port"))
		},
	}

	cmd.Flags().IntVar(&port, "port", 9001, "UDP port to bind on loopback (1024-65535)")
	cmd.Flags().StringVar(&peersCSV, "peers", "", "comma-separated peer ports (default: the well-known set)")
	cmd.Flags().StringVar(&nodeID, "node-id", "", "override the derived node id")
	cmd.Flags().StringVar(&configPath, "config", "", "optional config file path")

	return cmd
}

func run(port int, peersCSV, nodeIDOverride, configPath string, portFlagSet bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("chatnode: %w", err)
	}

	if portFlagSet {
		cfg.Node.Port = port
	}
	peerPorts := cfg.Node.Peers
	if peersCSV != "" {
		peerPorts, err = parsePorts(peersCSV)
		if err != nil {
			return fmt.Errorf("chatnode: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("chatnode: %w", err)
	}

	nodeID := nodeIDOverride
	if nodeID == "" {
		nodeID = cfg.Node.ID
	}
	if nodeID == "" {
		nodeID = deriveNodeID(cfg.Node.Port)
	}

	sink := &logSink{nodeID: nodeID}
	engine := gossip.New(sink, gossip.Config{
		AckTimeout:          cfg.Gossip.AckTimeout,
		AckCheckInterval:    cfg.Gossip.AckCheckInterval,
		MaxRetries:          cfg.Gossip.MaxRetries,
		AntiEntropyInterval: cfg.Gossip.AntiEntropyInterval,
		PeerHealthInterval:  cfg.Gossip.PeerHealthInterval,
		PeerTimeout:         cfg.Gossip.PeerTimeout,
	})
	engine.SetNodeID(nodeID)

	if err := engine.Start(cfg.Node.Port); err != nil {
		return fmt.Errorf("chatnode: %w", err)
	}
	defer engine.Stop()

	for _, p := range peerPorts {
		if p == cfg.Node.Port {
			continue
		}
		engine.AddPeer(deriveNodeID(p), "127.0.0.1", p)
	}
	engine.Discover(peerPorts)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(engine)
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.IntrospectionPort())
		go func() {
			if err := apiServer.Start(addr); err != nil {
				log.Printf("chatnode[%s]: introspection server stopped: %v", nodeID, err)
			}
		}()
		defer apiServer.Stop()
	}

	log.Printf("chatnode[%s]: listening on 127.0.0.1:%d, peers=%v", nodeID, cfg.Node.Port, peerPorts)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("chatnode[%s]: shutting down", nodeID)
	return nil
}

// deriveNodeID applies spec §6: a port at index i in the well-known set maps
// to "Node{i+1}"; any other port maps to "Node{port}".
func deriveNodeID(port int) string {
	for i, p := range config.WellKnownPorts {
		if p == port {
			return fmt.Sprintf("Node%d", i+1)
		}
	}
	return fmt.Sprintf("Node%d", port)
}

func parsePorts(csv string) ([]int, error) {
	fields := strings.Split(csv, ",")
	ports := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		p, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", f, err)
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// logSink is the application layer's event sink: it logs the three events
// spec §4.E surfaces, the only consumer the CLI binary needs.
type logSink struct {
	nodeID string
}

func (s *logSink) MessageReceived(m message.Message) {
	log.Printf("chatnode[%s]: message from %s: %q", s.nodeID, m.Origin, m.ChatText)
}

func (s *logSink) PeerDiscovered(peerID, host string, port int) {
	log.Printf("chatnode[%s]: discovered peer %s at %s:%d", s.nodeID, peerID, host, port)
}

func (s *logSink) PeerStatusChanged(peerID string, active bool) {
	log.Printf("chatnode[%s]: peer %s active=%v", s.nodeID, peerID, active)
}

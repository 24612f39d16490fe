package node

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"xornet/internal/debuglog"
	"xornet/internal/metrics"
	"xornet/internal/network"
	"xornet/internal/protocol"
	"xornet/internal/storage"
	"xornet/internal/xorname"
)

// Config configures a node daemon.
type Config struct {
	DataDir    string
	ListenAddr string
	// AdvertiseAddr overrides the bound address stamped into outbound
	// messages. Empty means use whatever the listener reports.
	AdvertiseAddr string
	Bootstrap     []string
	MaxChunks     int
	// MetricsPath, when set, receives a JSON snapshot periodically.
	MetricsPath string
}

// Node owns a storage peer's moving parts.
type Node struct {
	cfg    Config
	id     *Identity
	store  *storage.Store
	runner *Runner
	net    *network.Network
	met    *metrics.Metrics
}

func New(cfg Config) (*Node, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("node: data dir is required")
	}
	id, err := LoadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: identity: %w", err)
	}
	store, err := storage.Open(filepath.Join(cfg.DataDir, "storage"), cfg.MaxChunks)
	if err != nil {
		return nil, err
	}
	n := &Node{cfg: cfg, id: id, store: store, met: metrics.New()}
	n.runner = NewRunner(store, n.met, n.replicateToGroup)
	n.net = network.New(network.Config{
		Self:     network.Contact{ID: id.ID, Addr: cfg.AdvertiseAddr},
		Insecure: true,
		Handler:  n.runner.Handle,
	})
	return n, nil
}

func (n *Node) ID() protocol.PeerID       { return n.id.ID }
func (n *Node) Network() *network.Network { return n.net }
func (n *Node) Metrics() *metrics.Metrics { return n.met }
func (n *Node) Store() *storage.Store     { return n.store }

// Run serves the network until ctx ends or the listener fails. It
// dials bootstrap peers once the listener is up.
func (n *Node) Run(ctx context.Context) error {
	defer n.store.Close()
	defer n.net.Close()

	ready := make(chan string, 1)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- n.net.Serve(n.cfg.ListenAddr, ready)
	}()

	select {
	case bound := <-ready:
		if n.cfg.AdvertiseAddr == "" {
			n.net.SetAdvertiseAddr(bound)
		}
		debuglog.Logf("node %s listening on %s", n.id.ID.Short(), bound)
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, addr := range n.cfg.Bootstrap {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := n.net.Dial(dialCtx, network.Contact{Addr: addr})
		cancel()
		if err != nil {
			debuglog.Logf("bootstrap dial %s failed: %v", addr, err)
		}
	}

	if n.cfg.MetricsPath != "" {
		go n.metricsLoop(ctx)
	}

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.met.WriteSnapshot(n.cfg.MetricsPath); err != nil {
				debuglog.Debugf("metrics snapshot: %v", err)
			}
		}
	}
}

// replicateToGroup pushes newly accepted data to the other members of
// its close group. Best effort and asynchronous: replication converges
// over time, the original client's quorum does not depend on it.
func (n *Node) replicateToGroup(data *protocol.ReplicatedData) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		dst, err := data.Dst()
		if err != nil {
			return
		}
		peers, err := n.net.GetClosestPeers(ctx, dst)
		if err != nil {
			debuglog.Debugf("replicate %s: %v", data, err)
			return
		}
		req := &protocol.Request{Cmd: &protocol.Cmd{Replicate: data}}
		sent := 0
		for _, peer := range peers {
			if peer == n.id.ID {
				continue
			}
			if sent >= xorname.CloseGroupSize-1 {
				break
			}
			sent++
			go func(peer protocol.PeerID) {
				if _, err := n.net.SendRequest(ctx, req, peer); err != nil {
					debuglog.Debugf("replicate %s to %s: %v", data, peer.Short(), err)
				}
			}(peer)
		}
	}()
}

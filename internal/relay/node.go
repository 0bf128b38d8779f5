// Package relay implements the signaling transport: encrypted
// point-to-point messages published to a public gossipsub topic and
// filtered back out by recipient identity.
package relay

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
)

func init() {
	// Silence noisy libp2p subsystems — dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("pubsub", "warn")
	logging.SetLogLevel("autonat", "warn")
}

// Node owns the libp2p host and the joined signaling topic.
type Node struct {
	Host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// loadOrCreateHostKey loads the persistent libp2p host key from disk,
// or generates a new Ed25519 key and saves it on first run. This key is
// transport-level only; the call identity is the separate Curve25519
// key managed by the identity package.
func loadOrCreateHostKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Printf("WARNING: corrupt host key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal host key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save host key: %w", err)
	}

	return priv, true, nil
}

// NewNode starts a libp2p host, joins the signaling topic, and starts
// LAN discovery so nearby peers mesh without a bootstrap list.
func NewNode(ctx context.Context, listenPort int, keyFile, topicName, mdnsTag string) (*Node, error) {
	priv, isNew, err := loadOrCreateHostKey(keyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Printf("RELAY: generated new host key: %s", keyFile)
	} else {
		log.Printf("RELAY: loaded host key: %s", keyFile)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort)),
	)
	if err != nil {
		return nil, err
	}

	md := mdns.NewMdnsService(h, mdnsTag, &mdnsNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	topic, err := ps.Join(topicName)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	log.Printf("RELAY: node %s joined topic %s", h.ID(), topicName)
	return &Node{Host: h, ps: ps, topic: topic, sub: sub}, nil
}

// Connect dials a peer multiaddr directly. Useful for WAN peers that
// mDNS cannot discover.
func (n *Node) Connect(ctx context.Context, addr string) error {
	a, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("parse multiaddr: %w", err)
	}
	pi, err := peer.AddrInfoFromP2pAddr(a)
	if err != nil {
		return fmt.Errorf("resolve addr info: %w", err)
	}
	return n.Host.Connect(ctx, *pi)
}

// Addrs returns the host's listen multiaddresses with the peer ID suffix.
func (n *Node) Addrs() []string {
	var out []string
	suffix := "/p2p/" + n.Host.ID().String()
	for _, a := range n.Host.Addrs() {
		out = append(out, a.String()+suffix)
	}
	return out
}

func (n *Node) Close() error {
	n.sub.Cancel()
	return n.Host.Close()
}

// Publish pushes a raw record to the signaling topic.
func (n *Node) Publish(ctx context.Context, data []byte) error {
	return n.topic.Publish(ctx, data)
}

// Next blocks until the next raw record arrives on the topic.
func (n *Node) Next(ctx context.Context) ([]byte, error) {
	m, err := n.sub.Next(ctx)
	if err != nil {
		return nil, err
	}
	return m.Data, nil
}

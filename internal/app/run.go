// Package app wires the peer together: identity, relay node, transport,
// media, history, and the call manager, plus the interactive shell.
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/relaycall/internal/call"
	"github.com/petervdpas/relaycall/internal/config"
	"github.com/petervdpas/relaycall/internal/history"
	"github.com/petervdpas/relaycall/internal/identity"
	"github.com/petervdpas/relaycall/internal/media"
	"github.com/petervdpas/relaycall/internal/relay"
	"github.com/petervdpas/relaycall/internal/state"
	"github.com/petervdpas/relaycall/internal/util"
)

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
}

func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	// ── Call identity (Curve25519, addresses the encrypted channel)
	keyPath := util.ResolvePath(opt.PeerDir, cfg.Identity.KeyFile)
	id, isNew, err := identity.LoadOrCreate(keyPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if isNew {
		log.Printf("IDENTITY: generated new key: %s", keyPath)
	}
	log.Printf("IDENTITY: %s", id.PublicKeyHex())

	// ── Relay node (libp2p host key lives next to the call identity)
	hostKeyPath := filepath.Join(filepath.Dir(keyPath), "host.key")
	node, err := relay.NewNode(ctx, cfg.P2P.ListenPort, hostKeyPath, cfg.P2P.SignalTopic, cfg.P2P.MdnsTag)
	if err != nil {
		return fmt.Errorf("start relay node: %w", err)
	}
	defer node.Close()

	for _, a := range node.Addrs() {
		log.Printf("RELAY: listening on %s", a)
	}

	transport := relay.NewTransport(node, id, relay.Options{
		Window:         util.Seconds(cfg.Call.SubscribeWindowSec),
		PublishTimeout: util.Seconds(cfg.Call.PublishTimeoutSec),
	})
	defer transport.Close()

	// ── History store
	store, err := history.Open(util.ResolvePath(opt.PeerDir, cfg.Storage.DBPath))
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	// ── Media + call manager
	mediaMgr := media.NewManager(media.Options{VideoDisabled: cfg.Media.VideoDisabled})
	feed := state.NewFeed()

	mgr := call.NewManager(call.Deps{
		Transport: transport,
		Media:     mediaMgr,
		History:   store,
		Feed:      feed,
		Self:      id.PublicKeyHex(),
		Timers: call.Timers{
			Connect: util.Seconds(cfg.Call.ConnectTimeoutSec),
			Ring:    util.Seconds(cfg.Call.RingTimeoutSec),
		},
	})
	defer mgr.Close()

	mgr.OnRemoteTrack(func(t *webrtc.TrackRemote) {
		log.Printf("CALL: receiving remote %s track", t.Kind())
	})

	go announceStateChanges(ctx, feed)

	// Live config edits only produce a notice: identity, ports, and
	// timers are bound at startup and need a restart to change.
	if err := config.Watch(ctx, opt.CfgPath, func(config.Config) {
		log.Printf("CONFIG: changes take effect after restart")
	}); err != nil {
		log.Printf("CONFIG: watch unavailable: %v", err)
	}

	runShell(ctx, shellEnv{
		Mgr:       mgr,
		Store:     store,
		Node:      node,
		Transport: transport,
		Self:      id.PublicKeyHex(),
	})
	return nil
}

// announceStateChanges prints call lifecycle transitions so the shell
// user sees ringing/connected/failed without polling.
func announceStateChanges(ctx context.Context, feed *state.Feed) {
	ch := feed.Subscribe()
	defer feed.Unsubscribe(ch)

	last := state.StateIdle
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if snap.State == last {
				continue
			}
			last = snap.State
			switch snap.State {
			case state.StateRinging:
				if snap.Incoming != nil {
					fmt.Printf("\n*** incoming %s call from %s — answer | reject ***\n> ",
						snap.Incoming.CallType, snap.Incoming.From)
				}
			case state.StateConnected:
				fmt.Printf("\n*** call connected ***\n> ")
			case state.StateFailed:
				fmt.Printf("\n*** call failed ***\n> ")
			case state.StateIdle:
				fmt.Printf("\n*** call ended ***\n> ")
			}
		}
	}
}

package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/petervdpas/relaycall/internal/call"
	"github.com/petervdpas/relaycall/internal/history"
	"github.com/petervdpas/relaycall/internal/proto"
	"github.com/petervdpas/relaycall/internal/relay"
)

type shellEnv struct {
	Mgr       *call.Manager
	Store     *history.Store
	Node      *relay.Node
	Transport *relay.Transport
	Self      string
}

// runShell reads commands from stdin until EOF or ctx cancellation.
func runShell(ctx context.Context, env shellEnv) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	fmt.Println("Type 'help' for commands.")
	fmt.Print("> ")

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := env.handle(ctx, strings.Fields(line)); quit {
				return
			}
			fmt.Print("> ")
		}
	}
}

func (env shellEnv) handle(ctx context.Context, args []string) bool {
	if len(args) == 0 {
		return false
	}

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "help":
		printShellHelp()

	case "id":
		fmt.Println(env.Self)

	case "addr":
		for _, a := range env.Node.Addrs() {
			fmt.Println(a)
		}

	case "connect":
		if len(args) < 1 {
			fmt.Println("usage: connect <multiaddr>")
			break
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := env.Node.Connect(cctx, args[0])
		cancel()
		if err != nil {
			fmt.Printf("connect failed: %v\n", err)
		} else {
			fmt.Println("connected")
		}

	case "call":
		if len(args) < 1 {
			fmt.Println("usage: call <pubkey> [audio|video]")
			break
		}
		callType := proto.CallTypeVideo
		if len(args) > 1 {
			callType = args[1]
		}
		callID, err := env.Mgr.StartCall(ctx, args[0], callType)
		if err != nil {
			fmt.Printf("call failed: %v\n", err)
		} else {
			fmt.Printf("calling... (%s)\n", callID)
		}

	case "answer":
		if err := env.Mgr.Answer(ctx); err != nil {
			fmt.Printf("answer failed: %v\n", err)
		}

	case "reject":
		reason := strings.Join(args, " ")
		if err := env.Mgr.Reject(ctx, reason); err != nil {
			fmt.Printf("reject failed: %v\n", err)
		}

	case "hangup":
		if err := env.Mgr.HangUp(ctx); err != nil {
			fmt.Printf("hangup failed: %v\n", err)
		}

	case "mute":
		env.Mgr.SetAudioEnabled(false)
	case "unmute":
		env.Mgr.SetAudioEnabled(true)

	case "video":
		if len(args) < 1 || (args[0] != "on" && args[0] != "off") {
			fmt.Println("usage: video on|off")
			break
		}
		env.Mgr.SetVideoEnabled(args[0] == "on")

	case "share":
		if len(args) < 1 || (args[0] != "start" && args[0] != "stop") {
			fmt.Println("usage: share start|stop")
			break
		}
		var err error
		if args[0] == "start" {
			err = env.Mgr.StartScreenShare()
		} else {
			err = env.Mgr.StopScreenShare()
		}
		if err != nil {
			fmt.Printf("screen share: %v\n", err)
		}

	case "state":
		snap := env.Mgr.Snapshot()
		fmt.Printf("state: %s\n", snap.State)
		if snap.Session != nil {
			fmt.Printf("call:  %s with %s (%s)\n", snap.Session.CallID, snap.Session.RemotePeer, snap.Session.CallType)
		}
		if snap.Incoming != nil {
			fmt.Printf("incoming: %s from %s\n", snap.Incoming.CallType, snap.Incoming.From)
		}
		fmt.Printf("media: audio=%v video=%v screen=%v\n",
			snap.Media.AudioEnabled, snap.Media.VideoEnabled, snap.Media.ScreenSharing)

	case "stats":
		s := env.Mgr.Stats()
		fmt.Printf("connection: %s\n", s.ConnectionState)
		if s.SelectedPair != "" {
			fmt.Printf("ice pair:   %s\n", s.SelectedPair)
		}
		for _, t := range s.Tracks {
			fmt.Printf("  %-5s ssrc=%d packets=%d bytes=%d\n", t.Kind, t.SSRC, t.Packets, t.Bytes)
		}

	case "history":
		if len(args) > 0 && args[0] == "clear" {
			if err := env.Store.Clear(); err != nil {
				fmt.Printf("clear failed: %v\n", err)
			}
			break
		}
		entries, err := env.Store.List(0)
		if err != nil {
			fmt.Printf("history failed: %v\n", err)
			break
		}
		for _, e := range entries {
			fmt.Printf("%s  %-8s %-9s %-9s %s  %ds\n",
				e.StartTime.Format("2006-01-02 15:04"), e.CallType, e.Direction, e.Status, e.Peer, e.Duration)
		}

	case "contacts":
		env.handleContacts(args)

	case "diag":
		for _, line := range env.Transport.Diag() {
			fmt.Println(line)
		}

	case "quit", "exit":
		return true

	default:
		fmt.Printf("unknown command %q — type 'help'\n", cmd)
	}
	return false
}

func (env shellEnv) handleContacts(args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		contacts, err := env.Store.ListContacts()
		if err != nil {
			fmt.Printf("contacts failed: %v\n", err)
			return
		}
		for _, c := range contacts {
			fmt.Printf("%s  %s\n", c.PubKey, c.Name)
		}
	case "add":
		if len(args) < 2 {
			fmt.Println("usage: contacts add <pubkey> [name]")
			return
		}
		name := strings.Join(args[2:], " ")
		if err := env.Store.AddContact(args[1], name); err != nil {
			fmt.Printf("add failed: %v\n", err)
		}
	case "rm":
		if len(args) < 2 {
			fmt.Println("usage: contacts rm <pubkey>")
			return
		}
		if err := env.Store.RemoveContact(args[1]); err != nil {
			fmt.Printf("rm failed: %v\n", err)
		}
	default:
		fmt.Println("usage: contacts [list|add|rm]")
	}
}

func printShellHelp() {
	fmt.Println("Commands:")
	fmt.Println("  call <pubkey> [audio|video]   start an outgoing call (default video)")
	fmt.Println("  answer                        accept the ringing call")
	fmt.Println("  reject [reason]               decline the ringing call")
	fmt.Println("  hangup                        end the active call")
	fmt.Println("  mute | unmute                 toggle outgoing audio")
	fmt.Println("  video on|off                  toggle outgoing camera")
	fmt.Println("  share start|stop              screen sharing")
	fmt.Println("  state                         show call state")
	fmt.Println("  stats                         connection statistics")
	fmt.Println("  history [clear]               call history")
	fmt.Println("  contacts [list|add|rm]        contact list")
	fmt.Println("  id                            print local identity")
	fmt.Println("  addr                          print relay listen addresses")
	fmt.Println("  connect <multiaddr>           dial a WAN peer directly")
	fmt.Println("  diag                          recent transport events")
	fmt.Println("  quit                          exit")
}

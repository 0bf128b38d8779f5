// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/relaycall/internal/app"
	"github.com/petervdpas/relaycall/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("relaycall v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		showUsage()
		os.Exit(1)
	}

	runPeer(args[0])
}

func runPeer(peerDirArg string) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}

	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Cannot create peer directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, "relaycall.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("CONFIG: wrote default config: %s", cfgPath)
	}

	printBanner(absDir, cfgPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		PeerDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Peer failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("relaycall - encrypted P2P calls over a public relay network")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  relaycall <peer-directory>")
	fmt.Println()
	fmt.Println("The directory holds the peer's identity keys, configuration")
	fmt.Println("(relaycall.json, created on first run), and call history.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Run a peer, then use 'call <pubkey>' at the prompt")
	fmt.Println("  relaycall ./peers/alice")
}

func printBanner(peerDir, cfgPath string) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                    relaycall peer                      ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Peer Directory: %s\n", peerDir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	fmt.Println()
	fmt.Println("Starting peer... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}

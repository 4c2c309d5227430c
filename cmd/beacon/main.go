package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/omnihq/beacon-client/internal/cli"
	"github.com/omnihq/beacon-client/internal/config"
	"github.com/omnihq/beacon-client/internal/version"
	"github.com/omnihq/beacon-client/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		logger.Errorf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		gatewayURL = flag.String("gateway", "", "gateway base URL (skips discovery)")
		persona    = flag.String("persona", "", "persona override for chat")
		model      = flag.String("model", "", "model override for chat")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *debug || cfg.Debug {
		cfg.Debug = true
		logger.SetLevel(logger.LevelDebug)
	}

	args := flag.Args()
	command := "help"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "pair":
		target := *gatewayURL
		if target == "" && len(args) > 1 {
			target = args[1]
		}
		return cli.PairCommand(cfg, target)

	case "status":
		return cli.StatusCommand(cfg, *gatewayURL)

	case "chat":
		return cli.ChatCommand(cfg, *gatewayURL, *persona, *model)

	case "node":
		return cli.NodeCommand(cfg, *gatewayURL)

	case "version":
		fmt.Println(version.RichVersion())
		return nil

	case "help":
		usage()
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `beacon - chat client for a local or hosted beacon gateway

Usage:
  beacon [flags] <command>

Commands:
  pair [url]   Pair this device with a gateway
  status       Show the connected gateway's status
  chat         Start an interactive chat session
  node         Register this device as a node and serve commands
  version      Print the version
  help         Show this help

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  BEACON_HOME_DIR       State directory (default ~/.beacon)
  BEACON_GATEWAY_URL    Gateway base URL (skips discovery)
  BEACON_HOSTED_URL     Hosted gateway URL (skips local discovery)
  BEACON_GATEWAY_BIN    Gateway binary to spawn when none is running
  BEACON_DEVICE_NAME    Device display name (default hostname)
  BEACON_DEBUG          Enable debug logging
`)
}

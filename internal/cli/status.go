package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/omnihq/beacon-client/internal/config"
	"github.com/omnihq/beacon-client/pkg/logger"
)

// StatusCommand connects to a gateway and prints its status document along
// with the locally known gateway list.
func StatusCommand(cfg *config.Config, gatewayURL string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if err := a.connect(ctx, gatewayURL); err != nil {
		return err
	}

	state := a.disc.Current()
	fmt.Printf("Device:     %s (%s)\n", a.id.Name, a.id.DeviceID)
	fmt.Printf("Gateway:    %s %s\n", state.Gateway.Name, state.Gateway.Version)
	fmt.Printf("URL:        %s\n", state.Gateway.URL)
	if state.Gateway.Persona != "" {
		fmt.Printf("Persona:    %s\n", state.Gateway.Persona)
	}
	if a.disc.SidecarRunning() {
		fmt.Printf("Sidecar:    yes (spawned by this client)\n")
	}

	raw, err := a.client.GetStatus(ctx)
	if err != nil {
		logger.Warnf("Gateway status unavailable: %v", err)
	} else {
		var pretty bytes.Buffer
		if json.Indent(&pretty, raw, "", "  ") == nil {
			fmt.Printf("\nStatus:\n%s\n", pretty.String())
		}
	}

	saved, err := a.store.LoadGateways()
	if err != nil || len(saved) == 0 {
		return nil
	}
	fmt.Printf("\nKnown gateways:\n")
	for _, gw := range saved {
		fmt.Printf("  %-20s %-30s last seen %s\n", gw.Name, gw.URL,
			time.UnixMilli(gw.SavedAtMs).Format(time.RFC3339))
	}
	return nil
}

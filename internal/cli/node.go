package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnihq/beacon-client/internal/capability"
	"github.com/omnihq/beacon-client/internal/config"
	"github.com/omnihq/beacon-client/internal/identity"
	"github.com/omnihq/beacon-client/internal/node"
	"github.com/omnihq/beacon-client/internal/version"
	"github.com/omnihq/beacon-client/pkg/logger"
)

// NodeCommand registers this device as a node on the connected gateway and
// services remote command invocations until interrupted.
func NodeCommand(cfg *config.Config, gatewayURL string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if err := a.connect(ctx, gatewayURL); err != nil {
		return err
	}

	registry := capability.NewRegistry()
	capability.RegisterDeviceHandlers(registry,
		hostInfo{id: a.id},
		hostStatus{started: time.Now()},
		nil, // no location source on a desktop host
		nil, // no camera source on a desktop host
	)

	svc := node.NewService(a.client, registry, node.Device{
		DeviceID:     a.id.DeviceID,
		Name:         a.id.Name,
		Platform:     a.id.Platform,
		Family:       "desktop",
		Capabilities: []string{"info", "status"},
	}, node.Options{})

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	logger.Infof("Node running; commands: %v. Press Ctrl+C to stop.", registry.Commands())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Infof("Shutting down node")
	return nil
}

// hostInfo describes the local device from its stored identity.
type hostInfo struct {
	id *identity.Identity
}

func (h hostInfo) DeviceInfo() capability.DeviceInfo {
	return capability.DeviceInfo{
		DeviceID: h.id.DeviceID,
		Name:     h.id.Name,
		Platform: h.id.Platform,
		Family:   "desktop",
		Version:  version.Version(),
	}
}

// hostStatus reports process-level status. Desktop hosts have no battery;
// uptime is measured from node start.
type hostStatus struct {
	started time.Time
}

func (h hostStatus) DeviceStatus(ctx context.Context) (capability.Status, error) {
	return capability.Status{
		Network:   "lan",
		UptimeSec: int64(time.Since(h.started).Seconds()),
	}, nil
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/omnihq/beacon-client/internal/config"
	"github.com/omnihq/beacon-client/internal/gateway"
	"github.com/omnihq/beacon-client/internal/identity"
	"github.com/omnihq/beacon-client/internal/storage"
	"github.com/omnihq/beacon-client/internal/transport"
	"github.com/omnihq/beacon-client/pkg/logger"
)

// tokenRefreshWindow is how close to expiry a pairing token gets before the
// user is told to re-pair.
const tokenRefreshWindow = 10 * time.Minute

// app bundles the wiring shared by every connected subcommand: storage,
// device identity, gateway discovery, and the transport client.
type app struct {
	cfg    *config.Config
	store  *storage.Store
	id     *identity.Identity
	disc   *gateway.Discovery
	client *transport.Client
}

func newApp(cfg *config.Config) (*app, error) {
	store := storage.NewStore(cfg)

	id, err := identity.LoadOrCreate(store, cfg.DeviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to load device identity: %w", err)
	}

	opts := gateway.Options{HostedURL: cfg.HostedURL}
	if cfg.GatewayBin != "" {
		opts.Sidecar = gateway.NewSidecar(gateway.SidecarOptions{BinaryPath: cfg.GatewayBin})
	}
	disc := gateway.NewDiscovery(store, opts)
	client := transport.NewClient(disc, id.DeviceID)

	if last, ok, err := store.LoadLastGateway(); err == nil && ok && last.Token != "" {
		client.SetToken(last.Token)
	}

	return &app{cfg: cfg, store: store, id: id, disc: disc, client: client}, nil
}

// connect establishes a gateway connection: an explicit URL connects
// directly, otherwise discovery tries the last-used gateway and the loopback
// candidates.
func (a *app) connect(ctx context.Context, explicitURL string) error {
	if explicitURL != "" {
		if err := a.disc.ConnectTo(ctx, explicitURL); err != nil {
			return err
		}
	} else {
		url := a.cfg.GatewayURL
		if url != "" {
			if err := a.disc.ConnectTo(ctx, url); err != nil {
				return err
			}
		} else if err := a.disc.StartDiscovery(ctx); err != nil {
			return err
		}
	}

	state := a.disc.Current()
	if !state.Connected() {
		if state.Err != "" {
			return fmt.Errorf("could not connect: %s", state.Err)
		}
		return fmt.Errorf("no gateway found; is one running on this machine, or pass --gateway")
	}

	if a.client.TokenExpiresWithin(tokenRefreshWindow) {
		logger.Warnf("Pairing token expires soon; run `beacon pair` to refresh it")
	}

	logger.Infof("Connected to %s at %s", state.Gateway.Name, state.Gateway.URL)
	return nil
}

func (a *app) close() {
	a.disc.Close()
}

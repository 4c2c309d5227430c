// Package cli implements the beacon subcommands.
package cli

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/omnihq/beacon-client/internal/config"
	"github.com/omnihq/beacon-client/internal/gateway"
	"github.com/omnihq/beacon-client/internal/identity"
	"github.com/omnihq/beacon-client/internal/protocol/wire"
	"github.com/omnihq/beacon-client/internal/storage"
	"github.com/omnihq/beacon-client/internal/transport"
	"github.com/omnihq/beacon-client/pkg/logger"
)

const pairConfirmTimeout = 30 * time.Second

// PairCommand pairs this device with a gateway. It probes the target URL,
// shows a QR code carrying the device public key, reads the pairing code the
// gateway displays, and confirms the pairing to obtain a bearer token.
func PairCommand(cfg *config.Config, gatewayURL string) error {
	store := storage.NewStore(cfg)

	id, err := identity.LoadOrCreate(store, cfg.DeviceName)
	if err != nil {
		return fmt.Errorf("failed to load device identity: %w", err)
	}

	target, err := resolvePairTarget(cfg, store, gatewayURL)
	if err != nil {
		return err
	}

	prober := gateway.NewProber()
	ctx := context.Background()

	gw, err := prober.Probe(ctx, target, gateway.SourceManual)
	if err != nil {
		return fmt.Errorf("no gateway at %s: %w", target, err)
	}

	logger.Infof("Pairing with %s (%s) at %s", gw.Name, gw.Version, gw.URL)

	publicKeyB64 := base64.StdEncoding.EncodeToString(id.PublicKey)
	qrData := fmt.Sprintf("beacon://pair?%s", toBase64URL(publicKeyB64))

	logger.Infof("\nScan this QR code on the gateway to identify this device:")
	printQRCode(qrData)
	logger.Infof("\nOr enter the device id manually: %s", id.DeviceID)

	fmt.Print("\nEnter the pairing code shown by the gateway: ")
	code, err := readLine(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read pairing code: %w", err)
	}
	if code == "" {
		return fmt.Errorf("empty pairing code")
	}

	client := transport.NewClient(nilStates{}, id.DeviceID)

	confirmCtx, cancel := context.WithTimeout(ctx, pairConfirmTimeout)
	defer cancel()

	resp, err := client.ConfirmPair(confirmCtx, gw.URL, wire.PairConfirmRequest{
		Code:       code,
		PublicKey:  publicKeyB64,
		DeviceID:   id.DeviceID,
		DeviceName: id.Name,
		Platform:   id.Platform,
	})
	if err != nil {
		return fmt.Errorf("pairing failed: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("gateway confirmed pairing but returned no token")
	}

	record := storage.SavedGateway{
		ID:        gw.ID,
		URL:       gw.URL,
		Name:      gw.Name,
		Version:   gw.Version,
		Persona:   gw.Persona,
		Voice:     gw.Voice,
		TLS:       gw.TLS,
		Source:    string(gw.Source),
		Token:     resp.Token,
		SavedAtMs: time.Now().UnixMilli(),
	}
	if err := store.SaveGateway(record); err != nil {
		return fmt.Errorf("failed to save gateway: %w", err)
	}
	if err := store.SaveLastGateway(record); err != nil {
		return fmt.Errorf("failed to save last gateway: %w", err)
	}

	logger.Infof("✓ Paired with %s", gw.Name)
	logger.Infof("Credentials saved to: %s", cfg.BeaconHome)
	return nil
}

// resolvePairTarget picks the gateway URL to pair with: explicit argument,
// then configured URL, then the last-used gateway.
func resolvePairTarget(cfg *config.Config, store *storage.Store, explicit string) (string, error) {
	if explicit != "" {
		return gateway.NormalizeURL(explicit), nil
	}
	if cfg.GatewayURL != "" {
		return gateway.NormalizeURL(cfg.GatewayURL), nil
	}
	if last, ok, err := store.LoadLastGateway(); err == nil && ok {
		return last.URL, nil
	}
	return "", fmt.Errorf("no gateway URL; pass one as an argument or set BEACON_GATEWAY_URL")
}

// printQRCode renders a QR code as terminal ASCII art. A render failure falls
// back to printing the raw data.
func printQRCode(data string) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		logger.Warnf("Failed to generate QR code: %v", err)
		logger.Infof("Pairing URL: %s", data)
		return
	}
	fmt.Println(qr.ToSmallString(false))
}

// toBase64URL converts standard base64 to the URL-safe alphabet without
// padding, for embedding in the QR payload.
func toBase64URL(b64 string) string {
	replaced := strings.NewReplacer("+", "-", "/", "_").Replace(b64)
	return strings.TrimRight(replaced, "=")
}

func readLine(f *os.File) (string, error) {
	reader := bufio.NewReader(f)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// nilStates is a StateSource for transport calls made before any connection
// state exists, such as pairing against an explicit URL.
type nilStates struct{}

func (nilStates) Current() gateway.State {
	return gateway.State{Status: gateway.StatusDisconnected}
}

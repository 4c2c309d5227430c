package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	// GatewayURL is an explicit gateway URL. When set, discovery connects to
	// it directly instead of probing candidates.
	GatewayURL string
	// HostedURL is the hosted gateway endpoint. When set, the client runs in
	// hosted mode and skips local discovery entirely.
	HostedURL string
	// GatewayBin is a local gateway binary to spawn as a sidecar when
	// discovery finds no running gateway. Empty disables the fallback.
	GatewayBin string

	// BeaconHome is the directory where beacon stores local state.
	BeaconHome string
	// SecretKeyPath is the path to the local secret key used to encrypt the
	// identity blob at rest.
	SecretKeyPath string
	// IdentityPath is the path to the encrypted device identity blob.
	IdentityPath string
	// GatewaysPath is the path to the saved-gateway list.
	GatewaysPath string
	// LastGatewayPath is the path to the last-used gateway record.
	LastGatewayPath string

	// DeviceName is the human-readable device name used when the identity is
	// first created.
	DeviceName string

	// Debug enables verbose logging.
	Debug bool
}

// Load loads configuration from environment and defaults
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	beaconHome := os.Getenv("BEACON_HOME_DIR")
	if beaconHome == "" {
		beaconHome = filepath.Join(homeDir, ".beacon")
	}

	// Ensure beacon home exists
	if err := os.MkdirAll(beaconHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create beacon home: %w", err)
	}

	deviceName := os.Getenv("BEACON_DEVICE_NAME")
	if deviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "Beacon Device"
		}
		deviceName = hostname
	}

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	if !debug {
		debug = os.Getenv("BEACON_DEBUG") == "true" || os.Getenv("BEACON_DEBUG") == "1"
	}

	return &Config{
		GatewayURL:      os.Getenv("BEACON_GATEWAY_URL"),
		HostedURL:       os.Getenv("BEACON_HOSTED_URL"),
		GatewayBin:      os.Getenv("BEACON_GATEWAY_BIN"),
		BeaconHome:      beaconHome,
		SecretKeyPath:   filepath.Join(beaconHome, "secret.key"),
		IdentityPath:    filepath.Join(beaconHome, "identity.blob"),
		GatewaysPath:    filepath.Join(beaconHome, "gateways.json"),
		LastGatewayPath: filepath.Join(beaconHome, "last_gateway.json"),
		DeviceName:      deviceName,
		Debug:           debug,
	}, nil
}

// Save saves configuration to disk (currently just creates directories)
func (c *Config) Save() error {
	return os.MkdirAll(c.BeaconHome, 0700)
}

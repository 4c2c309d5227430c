package gateway

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/omnihq/beacon-client/pkg/logger"
)

const (
	defaultSidecarURL     = "http://localhost:18790"
	defaultSidecarTimeout = 15 * time.Second
	defaultSidecarPoll    = 250 * time.Millisecond
)

// SidecarOptions configures a locally spawned gateway process.
type SidecarOptions struct {
	// BinaryPath is the gateway executable to spawn.
	BinaryPath string
	// Args are passed to the gateway binary.
	Args []string
	// URL is the base URL the gateway will answer on once ready. Empty
	// means the default local gateway address.
	URL string
	// StartupTimeout bounds how long Start waits for the probe endpoint to
	// answer. Zero means the default (15s).
	StartupTimeout time.Duration
	// PollInterval is the readiness poll cadence. Zero means the default
	// (250ms).
	PollInterval time.Duration
}

func (o SidecarOptions) withDefaults() SidecarOptions {
	if o.URL == "" {
		o.URL = defaultSidecarURL
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = defaultSidecarTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultSidecarPoll
	}
	return o
}

// Sidecar manages a gateway process spawned by this client as a fallback
// when no gateway is already running. A gateway that was reachable before
// Start is never adopted as a sidecar: Running reports only processes this
// client owns, so Stop never kills someone else's gateway.
type Sidecar struct {
	opts   SidecarOptions
	prober *Prober

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewSidecar creates a sidecar manager. Nothing is spawned until Start.
func NewSidecar(opts SidecarOptions) *Sidecar {
	return &Sidecar{opts: opts.withDefaults(), prober: NewProber()}
}

// URL returns the base URL the sidecar gateway answers on.
func (s *Sidecar) URL() string {
	return NormalizeURL(s.opts.URL)
}

// Running reports whether a sidecar process spawned by Start is still alive.
func (s *Sidecar) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Start spawns the gateway binary and polls its probe endpoint until it
// answers. The process is killed again if it never becomes ready within the
// startup timeout. Start on an already-running sidecar is a no-op.
func (s *Sidecar) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return nil
	}

	cmd := exec.Command(s.opts.BinaryPath, s.opts.Args...)
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to spawn gateway %s: %w", s.opts.BinaryPath, err)
	}
	s.cmd = cmd
	s.mu.Unlock()

	// Reap the process and drop ownership when it exits on its own.
	go func() {
		_ = cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()
	}()

	logger.Debugf("spawned sidecar gateway %s (pid %d)", s.opts.BinaryPath, cmd.Process.Pid)

	if err := s.waitReady(ctx); err != nil {
		_ = s.Stop()
		return err
	}
	return nil
}

// waitReady polls the probe endpoint until the gateway answers or the
// startup timeout elapses.
func (s *Sidecar) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(s.opts.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	url := s.URL()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("sidecar gateway did not become ready within %s", s.opts.StartupTimeout)
		case <-ticker.C:
			if !s.Running() {
				return fmt.Errorf("sidecar gateway exited before becoming ready")
			}
			if _, err := s.prober.Probe(ctx, url, SourceSaved); err == nil {
				logger.Infof("sidecar gateway ready at %s", url)
				return nil
			}
		}
	}
}

// Stop kills the sidecar process if one is running. A no-op otherwise.
func (s *Sidecar) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to stop sidecar gateway: %w", err)
	}
	return nil
}

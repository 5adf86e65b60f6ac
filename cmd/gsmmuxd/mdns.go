package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType advertises the daemon so LAN tooling can find a running
// mux daemon's metrics/readiness endpoint without a fixed address, the same
// opt-in shape the teacher uses for its TCP gateway.
const mdnsServiceType = "_gsmmuxd._tcp"

// startMDNS registers the service via mDNS and returns a cleanup function.
// It is safe to call even when disabled (no-op cleanup).
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable || port == 0 {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("gsmmuxd-%s", host)
	}
	meta := []string{
		"profile=" + cfg.profile,
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}

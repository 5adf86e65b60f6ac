// Command gsmmuxd multiplexes a single serial link to a GSM/3GPP modem,
// speaking 3GPP TS 27.010 basic mode, into N local pseudo-terminal
// endpoints.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/tkarvone/gsmmuxd/internal/logging"
	"github.com/tkarvone/gsmmuxd/internal/metrics"
	"github.com/tkarvone/gsmmuxd/internal/muxloop"
	"github.com/tkarvone/gsmmuxd/internal/ptyio"
	"github.com/tkarvone/gsmmuxd/internal/supervisor"
)

func main() {
	cfg, showHelp, err := parseFlags(os.Args[1:])
	if showHelp {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gsmmuxd: %v\n", err)
		os.Exit(1)
	}

	daemonize(cfg) // backgrounds and exits unless -d or already the re-exec'd child
	ignoreHangup()

	l := setupLogger(cfg.logFormat, cfg.logLevel, cfg.debug)
	l.Info("gsmmuxd_starting", "version", version, "commit", commit, "date", date,
		"serial", cfg.serialPath, "profile", cfg.profile, "endpoints", len(cfg.endpointPaths),
		"fault_tolerant", cfg.faultTolerant)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		httpSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	var mdnsPort int
	if _, port, perr := splitPort(cfg.metricsAddr); perr == nil {
		mdnsPort = port
	}
	cleanupMDNS, merr := startMDNS(ctx, cfg, mdnsPort)
	if merr != nil {
		l.Warn("mdns_start_failed", "error", merr)
	} else {
		defer cleanupMDNS()
	}

	metrics.SetReadinessFunc(func() bool { return false })
	sup := buildSupervisor(cfg)
	sup.OnStarted = func() {
		metrics.SetReadinessFunc(func() bool { return true })
		notifyParent(true)
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGPIPE)
	go func() {
		for s := range sigCh {
			if s == syscall.SIGPIPE {
				l.Info("gsmmuxd_sigpipe")
				os.Exit(0)
			}
			l.Info("gsmmuxd_shutdown_signal", "signal", s.String())
			cancel()
			return
		}
	}()

	runErr := sup.Run(ctx)
	snap := metrics.Snap()
	if runErr != nil {
		l.Error("gsmmuxd_fatal", "error", runErr, "serial_rx", snap.SerialRx, "dropped", snap.Dropped)
		notifyParent(false)
		wg.Wait()
		os.Exit(1)
	}
	l.Info("gsmmuxd_exit", "serial_rx", snap.SerialRx, "serial_tx", snap.SerialTx, "dropped", snap.Dropped)
	wg.Wait()
}

// buildSupervisor wires the platform adapters (internal/ptyio) into the
// supervisor's OpenSerial/OpenEndpoint hooks, including symlink creation
// for -s and the serial-port wake-up dance OpenSerial already performs.
func buildSupervisor(cfg *appConfig) *supervisor.Supervisor {
	return &supervisor.Supervisor{
		Profile:       cfg.profile,
		SerialPath:    cfg.serialPath,
		Baud:          cfg.baud,
		Pin:           cfg.pin,
		MaxFrameSize:  cfg.maxFrameSize,
		FaultTolerant: cfg.faultTolerant,
		EndpointPaths: cfg.endpointPaths,
		OpenSerial: func(path string, baud int) (muxloop.SerialIO, error) {
			return ptyio.OpenSerial(path, baud)
		},
		OpenEndpoint: func(channel int, path string) (*muxloop.Endpoint, error) {
			ep, err := ptyio.OpenEndpoint(channel, path)
			if err != nil {
				return nil, err
			}
			if cfg.symlinkPrefix != "" {
				if err := ep.LinkAs(cfg.symlinkPrefix, channel-1); err != nil {
					_ = ep.Close()
					return nil, err
				}
			}
			logging.L().Info("endpoint_open", "channel", channel, "slave", ep.SlaveName)
			return &muxloop.Endpoint{Channel: channel, IO: ep}, nil
		},
	}
}

// splitPort extracts the numeric port from a host:port listen address, used
// to tell mDNS which port to advertise. Returns an error if addr is empty
// or has no parseable port (mDNS advertisement is then skipped).
func splitPort(addr string) (string, int, error) {
	if addr == "" {
		return "", 0, fmt.Errorf("no address")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

package supervisor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tkarvone/gsmmuxd/internal/frame"
	"github.com/tkarvone/gsmmuxd/internal/logging"
	"github.com/tkarvone/gsmmuxd/internal/metrics"
	"github.com/tkarvone/gsmmuxd/internal/muxloop"
)

// Supervisor owns one mux session's full lifecycle: opening the serial
// port and endpoints, running the modem's AT dialog, the initial SABM
// handshake, driving the mux loop, and — in fault-tolerant mode —
// tearing everything down and retrying after the loop reports the
// session needs a restart.
type Supervisor struct {
	Profile       string
	SerialPath    string
	Baud          int
	Pin           int
	MaxFrameSize  int
	FaultTolerant bool
	EndpointPaths []string

	// OpenSerial and OpenEndpoint are the platform hooks; production
	// wiring points these at internal/ptyio, tests at fakes.
	OpenSerial   func(path string, baud int) (muxloop.SerialIO, error)
	OpenEndpoint func(channel int, path string) (*muxloop.Endpoint, error)

	// RetryDelay overrides muxloop.PollingInterval between restart
	// attempts; zero means use the default.
	RetryDelay time.Duration

	// OnStarted, if set, is called once after the first session opens
	// successfully (modem setup done, initial SABM handshake sent) and
	// before the mux loop starts running. It is not called again on
	// fault-tolerant restarts. Wired to the daemon's -w startup
	// notification (§6).
	OnStarted func()
}

func (s *Supervisor) retryDelay() time.Duration {
	if s.RetryDelay > 0 {
		return s.RetryDelay
	}
	return muxloop.PollingInterval
}

// Run opens the session and drives it to completion, restarting on
// fault-tolerant-mode silence until ctx is cancelled or the session
// terminates normally.
func (s *Supervisor) Run(ctx context.Context) error {
	first := true
	for {
		loop, closeAll, err := s.openSession()
		if err != nil {
			if first || !s.FaultTolerant {
				return err
			}
			logging.L().Warn("supervisor_reopen_failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.retryDelay()):
			}
			continue
		}
		if first {
			first = false
			if s.OnStarted != nil {
				s.OnStarted()
			}
		}

		needsRestart, runErr := loop.Run(ctx)
		closeAll()
		if runErr != nil {
			return runErr
		}
		if !needsRestart {
			return nil
		}
		if !s.FaultTolerant {
			return nil
		}
		metrics.IncRestart()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retryDelay()):
		}
	}
}

// openSession opens the serial port and every endpoint, runs the modem
// setup dialog, builds the mux loop, and sends the initial per-channel
// SABM handshake. The returned closer releases everything opened so far,
// safe to call even on a partial failure.
func (s *Supervisor) openSession() (*muxloop.Loop, func(), error) {
	var opened []io.Closer
	closeAll := func() {
		for i := len(opened) - 1; i >= 0; i-- {
			_ = opened[i].Close()
		}
	}

	endpoints := make([]*muxloop.Endpoint, 0, len(s.EndpointPaths))
	for i, path := range s.EndpointPaths {
		ep, err := s.OpenEndpoint(i+1, path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open endpoint %d (%s): %w", i+1, path, err)
		}
		if closer, ok := ep.IO.(io.Closer); ok {
			opened = append(opened, closer)
		}
		endpoints = append(endpoints, ep)
	}

	serial, err := s.OpenSerial(s.SerialPath, s.Baud)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("open serial port %s: %w", s.SerialPath, err)
	}
	if closer, ok := serial.(io.Closer); ok {
		opened = append(opened, closer)
	}

	logging.L().Info("supervisor_modem_setup", "profile", s.Profile, "port", s.SerialPath)
	cfg := Config{Baud: s.Baud, Pin: s.Pin, MaxFrameSize: s.MaxFrameSize}
	if err := Setup(s.Profile, serial, cfg); err != nil {
		metrics.IncError(mapErrToMetric(err))
		closeAll()
		return nil, nil, err
	}

	loop := muxloop.New(serial, endpoints, s.MaxFrameSize, s.FaultTolerant)
	loop.Reopen = s.reopenEndpoint
	if err := s.handshake(loop); err != nil {
		closeAll()
		return nil, nil, err
	}
	return loop, closeAll, nil
}

// reopenEndpoint re-establishes one DLC's local handle after a read error,
// matching the reference daemon's open_pty retry on a failed endpoint.
// The old handle is closed first if it implements io.Closer.
func (s *Supervisor) reopenEndpoint(ep *muxloop.Endpoint) error {
	idx := ep.Channel - 1
	if idx < 0 || idx >= len(s.EndpointPaths) {
		return fmt.Errorf("no known path for channel %d", ep.Channel)
	}
	if closer, ok := ep.IO.(io.Closer); ok {
		_ = closer.Close()
	}
	fresh, err := s.OpenEndpoint(ep.Channel, s.EndpointPaths[idx])
	if err != nil {
		return err
	}
	ep.IO = fresh.IO
	return nil
}

// handshake sends SABM on the control channel, then on every data channel
// with roughly a second's spacing, mirroring the reference daemon's
// startup sequence. It doesn't wait for the UA replies — the loop, once
// started, will observe them on the normal serial-read path and mark each
// channel open.
func (s *Supervisor) handshake(loop *muxloop.Loop) error {
	if err := loop.Send(0, frame.SABM|frame.PF, nil); err != nil {
		return fmt.Errorf("%w: control channel SABM: %v", ErrModemSetup, err)
	}
	for _, ep := range loop.Endpoints {
		time.Sleep(time.Second)
		if err := loop.Send(ep.Channel, frame.SABM|frame.PF, nil); err != nil {
			return fmt.Errorf("%w: channel %d SABM: %v", ErrModemSetup, ep.Channel, err)
		}
	}
	return nil
}

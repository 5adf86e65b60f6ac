//go:build linux

package muxloop

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tkarvone/gsmmuxd/internal/logging"
	"github.com/tkarvone/gsmmuxd/internal/metrics"
)

// pollTimeoutMillis matches the reference daemon's select() timeout: long
// enough to stay idle between pings, short enough to notice a context
// cancellation or a terminate/restart request promptly.
const pollTimeoutMillis = 1000

// Run drives the poll loop until it exits cleanly or decides the session
// needs a restart. Cancelling ctx requests an orderly terminate walk
// rather than dropping the session immediately.
func (l *Loop) Run(ctx context.Context) (needsRestart bool, err error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.Flags.RequestTerminate(true)
		case <-done:
		}
	}()

	fds := make([]unix.PollFd, 1+len(l.Endpoints))
	for {
		fds[0] = unix.PollFd{Fd: int32(l.Serial.Fd()), Events: unix.POLLIN}
		for i, ep := range l.Endpoints {
			fds[i+1] = unix.PollFd{Fd: int32(ep.IO.Fd()), Events: unix.POLLIN}
		}

		n, perr := unix.Poll(fds, pollTimeoutMillis)
		switch {
		case perr != nil && perr != unix.EINTR:
			logging.L().Error("muxloop_poll_error", "err", perr)
			metrics.IncError(mapErrToMetric(ErrPoll))
		case n > 0:
			if fds[0].Revents&unix.POLLIN != 0 {
				if rerr := l.OnSerialReadable(); rerr != nil {
					l.handleSerialError(rerr)
				}
			}
			for i, ep := range l.Endpoints {
				if fds[i+1].Revents&unix.POLLIN != 0 {
					if rerr := l.OnEndpointReadable(ep); rerr != nil {
						l.handleEndpointError(ep, rerr)
					}
				}
			}
		}

		switch l.Tick(time.Now()) {
		case Exit:
			return false, nil
		case NeedsRestart:
			return true, nil
		}
	}
}

//go:build linux

package ptyio

import (
	"fmt"
	"os"
	"syscall"

	"github.com/creack/pty"
)

// Endpoint is one DLC's local handle: a pseudo-terminal master that a user
// process dials into as if it were its own modem port. Bytes read from it
// but not yet framed onto the wire are staged by muxloop.Endpoint, not here.
type Endpoint struct {
	Channel     int
	Master      *os.File
	SlaveName   string
	SymlinkPath string
}

// Fd returns the endpoint's master file descriptor for use in a poll set.
func (e *Endpoint) Fd() int { return int(e.Master.Fd()) }

// Read and Write satisfy the muxloop package's EndpointIO interface.
func (e *Endpoint) Read(p []byte) (int, error)  { return e.Master.Read(p) }
func (e *Endpoint) Write(p []byte) (int, error) { return e.Master.Write(p) }

// OpenEndpoint allocates a pseudo-terminal for one DLC. devPath is either
// the literal "/dev/ptmx" multiplexor device (Unix98 PTY allocation via
// creack/pty) or a direct path to a legacy BSD-style pty master, matching
// the two device-naming conventions the reference daemon's open_pty
// accepted.
func OpenEndpoint(channel int, devPath string) (*Endpoint, error) {
	if devPath == "/dev/ptmx" {
		master, slave, err := pty.Open()
		if err != nil {
			return nil, fmt.Errorf("allocate pty for channel %d: %w", channel, err)
		}
		name := slave.Name()
		_ = slave.Close() // the slave is for user processes to open; we only need its path
		if err := setRaw(int(master.Fd())); err != nil {
			_ = master.Close()
			return nil, fmt.Errorf("raw mode for channel %d: %w", channel, err)
		}
		return &Endpoint{Channel: channel, Master: master, SlaveName: name}, nil
	}

	f, err := os.OpenFile(devPath, os.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for channel %d: %w", devPath, channel, err)
	}
	if err := setRaw(int(f.Fd())); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("raw mode for channel %d: %w", channel, err)
	}
	return &Endpoint{Channel: channel, Master: f, SlaveName: devPath}, nil
}

// Close releases the endpoint's master handle and, if one was created,
// its symlink.
func (e *Endpoint) Close() error {
	if e.SymlinkPath != "" {
		_ = os.Remove(e.SymlinkPath)
		e.SymlinkPath = ""
	}
	return e.Master.Close()
}

// LinkAs creates (replacing any stale symlink) prefix+index pointing at the
// endpoint's slave device, matching createSymlinkName in the reference
// daemon.
func (e *Endpoint) LinkAs(prefix string, index int) error {
	path := fmt.Sprintf("%s%d", prefix, index)
	_ = os.Remove(path) // best-effort: clear a stale symlink from a prior run
	if err := os.Symlink(e.SlaveName, path); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", path, e.SlaveName, err)
	}
	e.SymlinkPath = path
	return nil
}

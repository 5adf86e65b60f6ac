//go:build linux

package ptyio

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Serial wraps the physical UART handle. It exists mainly to give the file
// descriptor an int-returning Fd method, the shape muxloop's poll set wants,
// since os.File.Fd returns uintptr.
type Serial struct {
	*os.File
}

func (s *Serial) Fd() int { return int(s.File.Fd()) }

// OpenSerial opens the physical UART the modem is attached to. When baud is
// non-zero it also performs the wake-up dance some modems (Siemens MC35i in
// particular) need: drop the line to 0 baud, pause, then bring it back up at
// the requested speed, matching setAdvancedOptions in the reference daemon.
func OpenSerial(devPath string, baud int) (*Serial, error) {
	f, err := os.OpenFile(devPath, os.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", devPath, err)
	}
	fd := int(f.Fd())

	if err := setRaw(fd); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("raw mode on %s: %w", devPath, err)
	}

	if baud != 0 {
		speed, ok := baudToSpeed(baud)
		if !ok {
			_ = f.Close()
			return nil, fmt.Errorf("unsupported baud rate %d", baud)
		}
		if err := setSpeed(fd, 0); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("drop %s to 0 baud: %w", devPath, err)
		}
		time.Sleep(time.Second)
		if err := setSpeed(fd, speed); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("restore %s to %d baud: %w", devPath, baud, err)
		}
	}

	// CLOCAL+CREAD so the port isn't treated as a modem control line and
	// reads don't block waiting for carrier detect.
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("get termios for %s: %w", devPath, err)
	}
	t.Cflag |= unix.CLOCAL | unix.CREAD
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("set termios for %s: %w", devPath, err)
	}

	return &Serial{File: f}, nil
}

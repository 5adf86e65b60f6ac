//go:build linux

// Package ptyio wires the GSM multiplexer to its local platform handles: the
// pseudo-terminal endpoints user processes dial into, and the physical
// serial port the modem is attached to. Both are raw file descriptors so
// they can sit side by side in a single unix.Poll set, the way the teacher's
// socketcan.Device talks to the kernel directly instead of through a
// buffering wrapper.
package ptyio

import "golang.org/x/sys/unix"

// setRaw puts fd into the non-canonical, no-echo, no-signal mode every
// endpoint and the serial port itself need: the multiplexer owns framing,
// not the tty line discipline.
func setRaw(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

// baudToSpeed maps a decimal baud rate to the termios speed_t constant, the
// same table the reference daemon's indexOfBaud walks linearly.
func baudToSpeed(baud int) (uint32, bool) {
	switch baud {
	case 300:
		return unix.B300, true
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	default:
		return 0, false
	}
}

// setSpeed sets both input and output baud rate on fd. speed 0 drops the
// line to 0 baud, the wake-up jolt some modems need before they'll answer
// AT commands (see OpenSerial).
func setSpeed(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed & unix.CBAUD
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

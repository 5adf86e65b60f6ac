package supervisor

import (
	"fmt"
	"io"
	"time"

	"github.com/tkarvone/gsmmuxd/internal/ctrl"
	"github.com/tkarvone/gsmmuxd/internal/frame"
	"github.com/tkarvone/gsmmuxd/internal/logging"
)

const (
	atTimeout  = 10 * time.Second
	pinTimeout = 20 * time.Second
)

// Config carries the modem parameters a profile's AT dialog needs.
type Config struct {
	Baud         int
	Pin          int
	MaxFrameSize int
}

// baudTable mirrors the reference daemon's indexOfBaud table: the generic
// profile's AT+CMUX=0,0,<n> wants an index into this table, not the literal
// rate.
var baudTable = []int{0, 9600, 19200, 38400, 57600, 115200, 230400, 460800}

func baudIndex(baud int) int {
	for i, b := range baudTable {
		if b == baud {
			return i
		}
	}
	return 0
}

type setupFunc func(port io.ReadWriter, at *ATSession, cfg Config) error

var profiles = map[string]setupFunc{
	"mc35":    setupMC35,
	"mc75":    setupMC35, // MC75 accepts the same AT dialog as MC35i.
	"irz52it": setupIRZ52IT,
	"generic": setupGeneric,
}

// Setup runs the named profile's AT dialog over port, bringing the modem
// into 27.010 basic mode.
func Setup(profile string, port io.ReadWriter, cfg Config) error {
	fn, ok := profiles[profile]
	if !ok {
		return fmt.Errorf("%w: unknown modem profile %q", ErrModemSetup, profile)
	}
	return fn(port, newATSession(port), cfg)
}

// recoverFromStaleMux is the fallback every profile falls back to when the
// modem won't answer plain AT commands: a previous mux session may have
// been left open, so nudge it closed with a framed C_CLD before retrying.
func recoverFromStaleMux(port io.ReadWriter, at *ATSession, cfg Config) {
	logging.L().Info("supervisor_modem_silent_retrying_close_mux")
	closeMux := ctrl.Encode(ctrl.CCLD|ctrl.CR, nil)
	_, _ = frame.WriteFrame(port, 0, frame.UIH, closeMux, cfg.MaxFrameSize)
	at.Send("AT\r\n", atTimeout)
}

func sendPin(at *ATSession, cfg Config) {
	if cfg.Pin <= 0 || cfg.Pin >= 10000 {
		return
	}
	if !at.Send(fmt.Sprintf("AT+CPIN=%d\r\n", cfg.Pin), pinTimeout) {
		logging.L().Warn("supervisor_cpin_rejected")
	}
}

// setupMC35 follows the Siemens MC35i/MC75 dialog: drop to the requested
// baud, disable autobauding and flow-control escape, optionally unlock the
// SIM, then request mux mode.
func setupMC35(port io.ReadWriter, at *ATSession, cfg Config) error {
	if !at.Send("AT\r\n", atTimeout) {
		recoverFromStaleMux(port, at, cfg)
	}

	speed := "AT+IPR=57600\r\n"
	if cfg.Baud != 0 {
		speed = fmt.Sprintf("AT+IPR=%d\r\n", cfg.Baud)
	}
	at.Send(speed, atTimeout)
	at.Send("AT\r\n", atTimeout)
	at.Send("AT&S0\r\n", atTimeout)
	at.Send("AT\\Q3\r\n", atTimeout)
	sendPin(at, cfg)

	if !at.Send("AT+CMUX=0\r\n", atTimeout) {
		return fmt.Errorf("%w: mc35 AT+CMUX=0 rejected", ErrModemSetup)
	}
	return nil
}

// setupIRZ52IT follows the iRZ TC52iT dialog: baud, a combined
// autobauding/flow-control command, then mux mode.
func setupIRZ52IT(port io.ReadWriter, at *ATSession, cfg Config) error {
	speed := "AT+IPR=115200\r\n"
	if cfg.Baud != 0 {
		speed = fmt.Sprintf("AT+IPR=%d\r\n", cfg.Baud)
	}
	at.Send(speed, atTimeout)
	at.Send("AT\r\n", atTimeout)
	at.Send("AT&S0\\Q3\r\n", atTimeout)

	if !at.Send("AT\r\n", atTimeout) {
		recoverFromStaleMux(port, at, cfg)
	}
	sendPin(at, cfg)

	if !at.Send("AT+CMUX=0\r\n", atTimeout) {
		return fmt.Errorf("%w: irz52it AT+CMUX=0 rejected", ErrModemSetup)
	}
	return nil
}

// setupGeneric is for modems needing nothing but AT+CMUX=0 to enter mux
// mode, optionally with an explicit baud index.
func setupGeneric(port io.ReadWriter, at *ATSession, cfg Config) error {
	muxCmd := "AT+CMUX=0\r\n"
	if cfg.Baud != 0 {
		muxCmd = fmt.Sprintf("AT+CMUX=0,0,%d\r\n", baudIndex(cfg.Baud))
	}

	if !at.Send("AT\r\n", atTimeout) {
		recoverFromStaleMux(port, at, cfg)
	}
	sendPin(at, cfg)

	if !at.Send(muxCmd, atTimeout) {
		return fmt.Errorf("%w: generic AT+CMUX=0 rejected", ErrModemSetup)
	}
	return nil
}

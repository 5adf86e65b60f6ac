// Package linksm implements the per-channel link state machine: the
// SABM/UA/DM/DISC/UI/UIH transition table and the DLC-0 control-channel
// command dispatch it drives. It owns no I/O itself — it mutates a channel
// table and writes frames through a Sink, so it can be exercised with a
// fake sink in tests exactly like the reference daemon's handle_command
// and extract_frames functions operate on an in-memory frame buffer.
package linksm

import (
	"github.com/tkarvone/gsmmuxd/internal/channels"
	"github.com/tkarvone/gsmmuxd/internal/ctrl"
	"github.com/tkarvone/gsmmuxd/internal/frame"
	"github.com/tkarvone/gsmmuxd/internal/logging"
)

// Sink is the frame-emitting side the engine writes replies through.
type Sink interface {
	Send(channel int, control byte, payload []byte) error
}

// Endpoints receives payload bytes arriving on an open non-control channel,
// destined for that channel's pseudo-terminal.
type Endpoints interface {
	Deliver(channel int, payload []byte)
}

// Flags lets the link state machine request terminate/restart policy
// decisions without owning the supervisory loop itself. PerChannelFirst
// distinguishes an orderly shutdown (walk every open channel with DISC
// before closing DLC 0) from an immediate one (the peer has already closed
// the mux down with C_CLD, or the control channel is not open) — the
// explicit replacement for a
// numeric sentinel countdown.
type Flags interface {
	RequestTerminate(perChannelFirst bool)
	RequestRestart()
}

// Engine drives the link state machine for one mux session.
type Engine struct {
	Channels     *channels.Table
	Sink         Sink
	Endpoints    Endpoints
	Flags        Flags
	FaultTolerant bool
}

// HandleFrame applies one decoded frame to the state machine, writing any
// reply frames and dispatching control-channel commands or endpoint
// payloads as appropriate.
func (e *Engine) HandleFrame(fr frame.Frame) {
	ctl := fr.BaseControl()
	pf := fr.Control & frame.PF
	ch := fr.Channel

	switch ctl {
	case frame.SABM:
		e.handleSABM(ch, pf)
	case frame.DISC:
		e.handleDISC(ch, pf)
	case frame.UA:
		e.handleUA(ch)
	case frame.DM:
		e.handleDM(ch)
	case frame.UI, frame.UIH:
		e.handlePayload(ch, fr.Data)
	default:
		logging.L().Warn("linksm_unknown_control", "channel", ch, "control", ctl)
	}
}

func (e *Engine) handleSABM(ch int, pf byte) {
	wasOpen := e.Channels.Opened(ch)
	e.Channels.SetOpened(ch, true)
	e.send(ch, frame.UA|pf, nil)
	if !wasOpen && ch == 0 {
		e.send(0, frame.UIH, frame.VersionProbe)
	}
}

func (e *Engine) handleDISC(ch int, pf byte) {
	if !e.Channels.Opened(ch) {
		e.send(ch, frame.DM|pf, nil)
		return
	}
	e.Channels.SetOpened(ch, false)
	e.send(ch, frame.UA|pf, nil)
	if ch == 0 {
		if e.FaultTolerant {
			e.Flags.RequestRestart()
		} else {
			e.Flags.RequestTerminate(true)
		}
	}
}

func (e *Engine) handleUA(ch int) {
	if !e.Channels.Opened(ch) {
		e.Channels.SetOpened(ch, true)
		if ch == 0 {
			e.send(0, frame.UIH, frame.VersionProbe)
		}
		return
	}
	e.Channels.SetOpened(ch, false)
}

func (e *Engine) handleDM(ch int) {
	if e.Channels.Opened(ch) {
		e.Channels.SetOpened(ch, false)
		return
	}
	if ch == 0 {
		e.Flags.RequestTerminate(false)
	}
}

func (e *Engine) handlePayload(ch int, payload []byte) {
	if ch == 0 {
		e.handleControl(payload)
		return
	}
	if e.Channels.Opened(ch) {
		e.Endpoints.Deliver(ch, payload)
	}
}

func (e *Engine) send(ch int, control byte, payload []byte) {
	if err := e.Sink.Send(ch, control, payload); err != nil {
		logging.L().Warn("linksm_send_failed", "channel", ch, "err", err)
	}
}

// handleControl dispatches every control message found in a DLC-0 UIH
// payload. A payload may carry more than one message back-to-back.
func (e *Engine) handleControl(payload []byte) {
	for len(payload) > 0 {
		msg, n, ok := ctrl.Decode(payload)
		if !ok {
			logging.L().Warn("linksm_control_truncated", "remaining", len(payload))
			return
		}
		e.dispatchCommand(msg)
		payload = payload[n:]
	}
}

func (e *Engine) dispatchCommand(msg ctrl.Message) {
	base := ctrl.BaseType(msg.Type)

	if !ctrl.IsCommand(msg.Type) {
		// A response from the peer to a command we issued.
		if base == ctrl.CNSC {
			logging.L().Info("linksm_peer_rejected_command", "type", msg.Value)
		}
		// Any other response is silently noted.
		return
	}

	switch base {
	case ctrl.CCLD:
		e.send(0, frame.UIH, ctrl.Encode(ctrl.Ack(msg.Type), msg.Value))
		if e.FaultTolerant {
			e.Flags.RequestRestart()
		} else {
			e.Flags.RequestTerminate(false)
		}
	case ctrl.CTEST:
		e.send(0, frame.UIH, ctrl.Encode(ctrl.Ack(msg.Type), msg.Value))
	case ctrl.CMSC:
		if len(msg.Value) >= 2 {
			ch := ctrl.ChannelOf(msg.Value[0])
			e.Channels.SetV24(ch, msg.Value[1])
		}
		e.send(0, frame.UIH, ctrl.Encode(ctrl.Ack(msg.Type), msg.Value))
	case ctrl.CNSC:
		// a peer issuing C_NSC as a command isn't meaningful in this
		// protocol; nothing to do.
	default:
		e.send(0, frame.UIH, ctrl.Encode(ctrl.CNSC, []byte{msg.Type}))
	}
}

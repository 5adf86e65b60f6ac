// Package muxloop implements the endpoint multiplexer loop: the
// steady-state operation that reads serial bytes into frames bound for
// endpoints, reads endpoint bytes into frames bound for the serial link,
// and drives the terminate/ping/restart policy between them. It is
// platform-independent — the actual readiness wait lives in loop_linux.go
// — so it can be driven directly by fakes in tests the way the reference
// daemon's main loop is exercised against an in-memory fd pair.
package muxloop

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tkarvone/gsmmuxd/internal/channels"
	"github.com/tkarvone/gsmmuxd/internal/ctrl"
	"github.com/tkarvone/gsmmuxd/internal/frame"
	"github.com/tkarvone/gsmmuxd/internal/linksm"
	"github.com/tkarvone/gsmmuxd/internal/logging"
	"github.com/tkarvone/gsmmuxd/internal/metrics"
	"github.com/tkarvone/gsmmuxd/internal/rxbuf"
)

const (
	// PollingInterval is the base keepalive spacing and, reused by the
	// supervisor, the delay between restart attempts.
	PollingInterval = 5 * time.Second
	// MaxMissedPings is the ping counter value at which a fault-tolerant
	// session restarts. The counter is 1 after each received frame and
	// grows by one per ping, so MaxMissedPings-1 unanswered pings trigger
	// the restart.
	MaxMissedPings = 4
	// ReadChunk bounds a single read so one busy endpoint can't starve the
	// others, or the serial port, within one poll iteration.
	ReadChunk = 4096

	writeRetries = 5
)

// StepResult tells the driving loop (real poll loop or a test) what
// happened during a Tick call.
type StepResult int

const (
	// Continue means keep polling.
	Continue StepResult = iota
	// NeedsRestart means the session should be torn down and reopened from
	// scratch (fault-tolerant mode only).
	NeedsRestart
	// Exit means the terminate sequence has run to completion.
	Exit
)

// EndpointIO is what Loop needs from a DLC's local handle.
type EndpointIO interface {
	io.Reader
	io.Writer
	Fd() int
}

// SerialIO is what Loop needs from the physical link.
type SerialIO interface {
	io.Reader
	io.Writer
	Fd() int
}

// Endpoint pairs one DLC's local I/O with its carry-over bytes: data
// already read from the pty but not yet framed onto the wire because
// max_frame_size truncated what could be sent in one UIH.
type Endpoint struct {
	Channel int
	IO      EndpointIO

	carry []byte
}

// Carry returns the endpoint's pending staging bytes.
func (e *Endpoint) Carry() []byte { return e.carry }

// Loop is the endpoint multiplexer: one instance per open mux session.
type Loop struct {
	Serial        SerialIO
	Endpoints     []*Endpoint
	Channels      *channels.Table
	Engine        *linksm.Engine
	Flags         *Flags
	MaxFrameSize  int
	FaultTolerant bool

	// Reopen re-establishes an endpoint after a read error, if set. When
	// nil, or when it fails, an endpoint read error escalates straight to
	// RequestTerminate(true).
	Reopen func(ep *Endpoint) error

	rx               *rxbuf.Buffer
	lastDropped      uint64
	lastMalformed    uint64
	lastFrameTime    time.Time
	pingNumber       int
	terminateCursor  int
	terminateStarted bool
}

// New wires a Loop and the link state machine it drives together.
func New(serial SerialIO, endpoints []*Endpoint, maxFrameSize int, faultTolerant bool) *Loop {
	table := channels.New(len(endpoints))
	flags := &Flags{}
	l := &Loop{
		Serial:        serial,
		Endpoints:     endpoints,
		Channels:      table,
		Flags:         flags,
		MaxFrameSize:  maxFrameSize,
		FaultTolerant: faultTolerant,
		rx:            rxbuf.New(maxFrameSize),
		pingNumber:    1,
	}
	l.Engine = &linksm.Engine{
		Channels:      table,
		Sink:          l,
		Endpoints:     l,
		Flags:         flags,
		FaultTolerant: faultTolerant,
	}
	return l
}

func (l *Loop) endpointFor(channel int) *Endpoint {
	for _, ep := range l.Endpoints {
		if ep.Channel == channel {
			return ep
		}
	}
	return nil
}

// Send implements linksm.Sink: it writes a single frame to the serial
// link, retrying a short write up to writeRetries times. A short write
// can't be told apart from "nothing to send" when payload is empty — the
// same (0, nil) the frame codec returns for either — so empty-payload
// frames (acks, SABM/UA/DISC/DM) are written once and assumed to land;
// only a genuine I/O error aborts them.
func (l *Loop) Send(channel int, control byte, payload []byte) error {
	for attempt := 0; attempt < writeRetries; attempt++ {
		n, err := frame.WriteFrame(l.Serial, channel, control, payload, l.MaxFrameSize)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialWrite, err)
		}
		if n > 0 || len(payload) == 0 {
			metrics.IncSerialTx()
			return nil
		}
	}
	return fmt.Errorf("%w: channel %d", ErrEndpointRetry, channel)
}

func (l *Loop) send(channel int, control byte, payload []byte) {
	if err := l.Send(channel, control, payload); err != nil {
		logging.L().Warn("muxloop_send_failed", "channel", channel, "err", err)
	}
}

// Deliver implements linksm.Endpoints: payload arriving from the wire on
// an open data channel is written out to that channel's endpoint.
func (l *Loop) Deliver(channel int, payload []byte) {
	ep := l.endpointFor(channel)
	if ep == nil {
		return
	}
	remaining := payload
	for len(remaining) > 0 {
		n, err := ep.IO.Write(remaining)
		if err != nil {
			logging.L().Warn("muxloop_endpoint_write_failed", "channel", channel, "err", err)
			return
		}
		remaining = remaining[n:]
	}
	metrics.AddEndpointTx(len(payload))
}

// OnSerialReadable reads one chunk from the serial link into the receive
// buffer and drains every frame it can now extract through the link
// state machine.
func (l *Loop) OnSerialReadable() error {
	free := l.rx.Free()
	if free <= 0 {
		return nil
	}
	chunk := ReadChunk
	if free < chunk {
		chunk = free
	}
	buf := make([]byte, chunk)
	n, err := l.Serial.Read(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialRead, err)
	}
	l.rx.Write(buf[:n])

	gotFrame := false
	for {
		fr, ok := l.rx.GetFrame()
		if !ok {
			break
		}
		gotFrame = true
		metrics.IncSerialRx()
		l.Engine.HandleFrame(fr)
	}

	if dropped := l.rx.DroppedCount(); dropped > l.lastDropped {
		metrics.AddDropped(dropped - l.lastDropped)
		l.lastDropped = dropped
	}
	if malformed := l.rx.MalformedCount(); malformed > l.lastMalformed {
		metrics.AddMalformed(malformed - l.lastMalformed)
		l.lastMalformed = malformed
	}

	if l.FaultTolerant && gotFrame {
		l.lastFrameTime = time.Now()
		l.pingNumber = 1
	}
	return nil
}

// OnEndpointReadable reads whatever is waiting on one DLC's endpoint,
// prepends any carry-over from a previous short write, and frames it onto
// the wire as a UIH — the ussp_recv_data equivalent. Bytes truncated to
// max_frame_size become the new carry-over for next time. When the retry
// limit is hit it returns ErrEndpointRetry and the bytes read by this call
// are not carried over.
func (l *Loop) OnEndpointReadable(ep *Endpoint) error {
	carry := ep.carry
	buf := make([]byte, len(carry)+ReadChunk)
	copy(buf, carry)
	n, err := ep.IO.Read(buf[len(carry):])
	if err != nil {
		return fmt.Errorf("%w: channel %d: %v", ErrEndpointRead, ep.Channel, err)
	}
	data := buf[:len(carry)+n]
	if len(data) == 0 {
		return nil
	}
	metrics.AddEndpointRx(n)

	sent, err := l.recvAndFrame(ep.Channel, data)
	if err != nil {
		return err
	}
	leftover := data[sent:]
	ep.carry = append([]byte(nil), leftover...)
	return nil
}

func (l *Loop) recvAndFrame(channel int, data []byte) (int, error) {
	for attempt := 0; attempt < writeRetries; attempt++ {
		n, err := frame.WriteFrame(l.Serial, channel, frame.UIH, data, l.MaxFrameSize)
		if err != nil {
			return 0, fmt.Errorf("%w: channel %d: %v", ErrEndpointWrite, channel, err)
		}
		if n > 0 {
			metrics.IncSerialTx()
			return n, nil
		}
		if len(data) == 0 {
			return 0, nil
		}
	}
	return 0, fmt.Errorf("%w: channel %d", ErrEndpointRetry, channel)
}

// handleSerialError decides the fate of the session after a serial read
// failure: restart if fault-tolerant, otherwise an orderly terminate.
func (l *Loop) handleSerialError(err error) {
	logging.L().Error("muxloop_serial_error", "err", err)
	metrics.IncError(mapErrToMetric(err))
	if l.FaultTolerant {
		l.Flags.RequestRestart()
		return
	}
	l.Flags.RequestTerminate(true)
}

// handleEndpointError logs an endpoint-path failure. After a read error it
// attempts to reopen the endpoint; if there is no reopen hook, or it also
// fails, the whole session is torn down. A failed or exhausted serial write
// is only logged and counted: its bytes are dropped.
func (l *Loop) handleEndpointError(ep *Endpoint, err error) {
	logging.L().Warn("muxloop_endpoint_error", "channel", ep.Channel, "err", err)
	metrics.IncError(mapErrToMetric(err))
	if !errors.Is(err, ErrEndpointRead) {
		return
	}
	if l.Reopen == nil {
		l.Flags.RequestTerminate(true)
		return
	}
	if rerr := l.Reopen(ep); rerr != nil {
		logging.L().Error("muxloop_endpoint_reopen_failed", "channel", ep.Channel, "err", rerr)
		metrics.IncError(mapErrToMetric(ErrReopenFailed))
		l.Flags.RequestTerminate(true)
	}
}

// Tick advances the terminate walk, or the fault-tolerant ping/restart
// policy, once per poll iteration regardless of which fds were ready.
func (l *Loop) Tick(now time.Time) StepResult {
	if l.Flags.terminating() {
		return l.stepTerminate()
	}
	if l.FaultTolerant {
		if l.Flags.restarting() || l.pingNumber >= MaxMissedPings {
			return NeedsRestart
		}
		l.maybePing(now)
	}
	metrics.SetChannelsOpen(l.countOpen())
	return Continue
}

func (l *Loop) countOpen() int {
	n := 0
	for _, e := range l.Channels.Snapshot()[1:] {
		if e.Opened {
			n++
		}
	}
	return n
}

// stepTerminate walks the remaining channels one per call, descending
// from the highest index, sending DISC to any that are open; once the
// walk reaches the control channel it sends C_CLD, and the call after
// that reports Exit. An immediate terminate (perChannelFirst == false)
// skips the walk *and* the C_CLD send entirely — there is nothing to
// walk, and a remote C_CLD has already been acknowledged by linksm, or
// the control channel never came up in the first place.
func (l *Loop) stepTerminate() StepResult {
	if !l.terminateStarted {
		l.terminateStarted = true
		if l.Flags.walksChannelsFirst() {
			l.terminateCursor = l.Channels.Len() - 1
		} else {
			l.terminateCursor = -1
		}
	}

	if l.terminateCursor > 0 {
		ch := l.terminateCursor
		if l.Channels.Opened(ch) {
			l.send(ch, frame.DISC|frame.PF, nil)
		}
		l.terminateCursor--
		return Continue
	}
	if l.terminateCursor == 0 {
		l.send(0, frame.UIH, ctrl.Encode(ctrl.CCLD|ctrl.CR, nil))
		l.terminateCursor--
		return Continue
	}
	return Exit
}

func (l *Loop) maybePing(now time.Time) {
	if l.lastFrameTime.IsZero() {
		l.lastFrameTime = now
	}
	deadline := l.lastFrameTime.Add(PollingInterval * time.Duration(l.pingNumber))
	if now.Before(deadline) {
		return
	}
	l.send(0, frame.UIH, frame.PingPayload)
	metrics.IncPing()
	l.pingNumber++
}

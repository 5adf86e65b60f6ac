// Package channels holds the per-DLC link-state table: a small, mutex
// guarded registry analogous to the teacher's client hub, but fixed-size
// and keyed by DLCI rather than by connected client.
package channels

import (
	"sync"

	"github.com/tkarvone/gsmmuxd/internal/ctrl"
	"github.com/tkarvone/gsmmuxd/internal/logging"
)

// Entry is the state kept for a single data link connection: DLC 0 is the
// control channel, DLCs 1..N are the user-facing endpoints.
type Entry struct {
	Opened     bool
	V24Signals byte
}

// initialV24 asserts DV, RTR, RTC, plus the EA terminator bit, matching the
// reference daemon's default channel state before any MSC exchange.
const initialV24 = ctrl.SDV | ctrl.SRTR | ctrl.SRTC | ctrl.EA

// Table is the fixed-size channel registry for one mux session, indexed
// 0..N where 0 is the control channel.
type Table struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates a table for the control channel plus n user endpoints.
func New(n int) *Table {
	entries := make([]Entry, n+1)
	for i := range entries {
		entries[i] = Entry{V24Signals: initialV24}
	}
	return &Table{entries: entries}
}

// Len reports the number of entries, including the control channel.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// inRange reports whether ch addresses a real entry. The wire's DLCI field
// is 6 bits wide (0..63) regardless of how many channels this session was
// configured with, so a peer can send a channel number past the end of the
// table on an otherwise well-formed frame; callers must not let that panic
// a long-running daemon.
func (t *Table) inRange(ch int) bool {
	return ch >= 0 && ch < len(t.entries)
}

// Opened reports whether DLC ch is currently open. An out-of-range ch is
// reported closed.
func (t *Table) Opened(ch int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inRange(ch) {
		return false
	}
	return t.entries[ch].Opened
}

// SetOpened updates DLC ch's open/closed state. An out-of-range ch is
// logged and dropped.
func (t *Table) SetOpened(ch int, open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inRange(ch) {
		logging.L().Warn("channels_out_of_range", "channel", ch)
		return
	}
	t.entries[ch].Opened = open
}

// V24 returns DLC ch's last-known modem status signal bits. An
// out-of-range ch reads back zero.
func (t *Table) V24(ch int) byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inRange(ch) {
		return 0
	}
	return t.entries[ch].V24Signals
}

// SetV24 records DLC ch's modem status signal bits as reported by the
// peer. An out-of-range ch is logged and dropped.
func (t *Table) SetV24(ch int, signals byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inRange(ch) {
		logging.L().Warn("channels_out_of_range", "channel", ch)
		return
	}
	t.entries[ch].V24Signals = signals
}

// Reset returns every channel to its initial closed state, used when the
// link restarts.
func (t *Table) Reset() {
	t.mu.Lock()
	for i := range t.entries {
		t.entries[i] = Entry{V24Signals: initialV24}
	}
	t.mu.Unlock()
}

// Snapshot returns a copy of the current entries for metrics/logging.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// AnyOpen reports whether any non-control channel is currently open.
func (t *Table) AnyOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].Opened {
			return true
		}
	}
	return false
}

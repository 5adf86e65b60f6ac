package muxloop

import "sync/atomic"

// Flags is the concurrency-safe side channel between whatever decides a
// session needs to end or restart — the link state machine running
// inside Tick, or a Unix signal handler running in its own goroutine —
// and the loop that acts on it. It implements linksm.Flags.
type Flags struct {
	terminate       atomic.Bool
	perChannelFirst atomic.Bool
	restart         atomic.Bool
}

// RequestTerminate asks the loop to wind the session down. perChannelFirst
// distinguishes an orderly shutdown (DISC every open channel before
// closing DLC 0) from an immediate one; once set true by any caller it is
// never downgraded back to false by a later, less specific request.
func (f *Flags) RequestTerminate(perChannelFirst bool) {
	f.terminate.Store(true)
	if perChannelFirst {
		f.perChannelFirst.Store(true)
	}
}

// RequestRestart asks the loop to tear the session down and reopen it
// from scratch, a fault-tolerant-mode-only alternative to terminating.
func (f *Flags) RequestRestart() { f.restart.Store(true) }

func (f *Flags) terminating() bool      { return f.terminate.Load() }
func (f *Flags) walksChannelsFirst() bool { return f.perChannelFirst.Load() }
func (f *Flags) restarting() bool       { return f.restart.Load() }

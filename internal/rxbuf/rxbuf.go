// Package rxbuf implements the receive-side ring buffer: byte accumulation
// from the wire plus HDLC-flag resynchronization and frame extraction. It
// never blocks and never deadlocks — callers push bytes in, pop frames out,
// and garbage bytes are silently counted and dropped.
package rxbuf

import "github.com/tkarvone/gsmmuxd/internal/frame"

// MinCapacity is the smallest ring buffer this package will allocate,
// regardless of the requested max frame size.
const MinCapacity = 2048

// Buffer is a fixed-capacity ring buffer with frame-aware draining.
type Buffer struct {
	data   []byte
	cap    int
	readp  int
	writep int
	size   int

	flagFound bool

	receivedCount  uint64
	droppedCount   uint64
	malformedCount uint64
}

// New allocates a buffer sized to comfortably hold a couple of
// maximum-size frames plus header overhead.
func New(maxFrameSize int) *Buffer {
	capacity := 2*maxFrameSize + 16
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Buffer{data: make([]byte, capacity), cap: capacity}
}

// Free reports how many more bytes can be written before the buffer fills.
func (b *Buffer) Free() int { return b.cap - b.size }

// ReceivedCount is the number of frames successfully extracted so far.
func (b *Buffer) ReceivedCount() uint64 { return b.receivedCount }

// DroppedCount is the number of bytes discarded during resynchronization.
func (b *Buffer) DroppedCount() uint64 { return b.droppedCount }

// MalformedCount is the number of complete headers that were seen but
// rejected for a bad FCS, a missing closing flag or a length that can never
// fit in the buffer. Each rejection also drops one byte, which DroppedCount
// counts too.
func (b *Buffer) MalformedCount() uint64 { return b.malformedCount }

// Write appends up to Free() bytes of p into the ring, wrapping as needed,
// and returns how many bytes were actually stored. It never blocks and
// never returns an error: a full buffer simply accepts nothing further
// until GetFrame drains it.
func (b *Buffer) Write(p []byte) int {
	n := len(p)
	if n > b.Free() {
		n = b.Free()
	}
	for i := 0; i < n; i++ {
		b.data[b.writep] = p[i]
		b.writep = (b.writep + 1) % b.cap
	}
	b.size += n
	return n
}

func (b *Buffer) at(i int) byte {
	return b.data[(b.readp+i)%b.cap]
}

func (b *Buffer) advance(n int) {
	b.readp = (b.readp + n) % b.cap
	b.size -= n
}

// align scans forward for a true opening flag: a run of consecutive
// FFlag bytes followed by something that looks like an address byte (EA
// bit set). Non-flag bytes, and flags not followed by an address-shaped
// byte, are counted as dropped; idle flag fill is consumed without being
// counted. It reports whether a flag was found with enough trailing data
// to judge it, leaving the buffer positioned just past the opening flag.
func (b *Buffer) align() bool {
	for {
		if b.size < 1 {
			return false
		}
		if b.at(0) != frame.FFlag {
			b.advance(1)
			b.droppedCount++
			continue
		}
		if b.size < 2 {
			return false
		}
		if b.at(1) == frame.FFlag {
			// idle inter-frame fill: not garbage, just flag padding.
			b.advance(1)
			continue
		}
		if b.at(1)&0x01 == 0 {
			// this flag isn't followed by anything address-shaped; it was
			// noise rather than a real delimiter.
			b.advance(1)
			b.droppedCount++
			continue
		}
		b.advance(1)
		b.flagFound = true
		return true
	}
}

// GetFrame extracts the next well-formed frame from the buffer, if any is
// fully present. It returns (frame, true) on success, or (zero, false) if
// more bytes are needed. Malformed headers are dropped one byte at a time
// and resynchronization restarts automatically; callers should keep
// calling GetFrame after each Write until it returns false.
func (b *Buffer) GetFrame() (frame.Frame, bool) {
	for {
		if !b.flagFound {
			if !b.align() {
				return frame.Frame{}, false
			}
		}
		// After a decoded frame, skip the next frame's own opening flag and
		// any idle fill before reading its address byte.
		for b.size > 0 && b.at(0) == frame.FFlag {
			b.advance(1)
		}

		if b.size < 3 {
			return frame.Frame{}, false
		}

		addr := b.at(0)
		ctrl := b.at(1)
		lenByte := b.at(2)
		headerLen := 3
		var payloadLen int
		if lenByte&0x01 == 1 {
			payloadLen = int(lenByte >> 1)
		} else {
			if b.size < 4 {
				return frame.Frame{}, false
			}
			lenExt := b.at(3)
			payloadLen = int(lenByte>>1) | (int(lenExt) << 7)
			headerLen = 4
		}

		need := headerLen + payloadLen + 2 // + fcs + closing flag
		if need > b.cap {
			// can never be completed in this buffer: reject like a bad header
			b.advance(1)
			b.droppedCount++
			b.malformedCount++
			b.flagFound = false
			continue
		}
		if b.size < need {
			return frame.Frame{}, false
		}

		header := make([]byte, headerLen)
		for i := 0; i < headerLen; i++ {
			header[i] = b.at(i)
		}
		recvFCS := b.at(headerLen + payloadLen)
		closing := b.at(headerLen + payloadLen + 1)

		if !frame.ValidHeader(header, recvFCS) || closing != frame.FFlag {
			b.advance(1)
			b.droppedCount++
			b.malformedCount++
			b.flagFound = false
			continue
		}

		payload := make([]byte, payloadLen)
		for i := 0; i < payloadLen; i++ {
			payload[i] = b.at(headerLen + i)
		}
		channel := int((addr >> 2) & 0x3F)
		fr := frame.Frame{Channel: channel, Control: ctrl, Data: payload}

		b.advance(need)
		b.receivedCount++
		// flagFound stays true: the closing flag we just consumed doubles
		// as the next frame's opening flag, and any further flags are
		// skipped as fill on the next call.
		return fr, true
	}
}

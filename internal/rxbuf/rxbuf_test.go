package rxbuf

import (
	"bytes"

	"testing"

	"github.com/tkarvone/gsmmuxd/internal/frame"
)

func wireOf(t *testing.T, channel int, control byte, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := frame.WriteFrame(&buf, channel, control, payload, 4096); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	return buf.Bytes()
}

func TestGetFrame_RoundTripChunked(t *testing.T) {
	want := []frame.Frame{
		{Channel: 1, Control: frame.UIH, Data: []byte("AT+CMUX=0\r")},
		{Channel: 2, Control: frame.UIH, Data: []byte{0x01, 0x02, 0x03}},
		{Channel: 0, Control: frame.SABM | frame.PF, Data: nil},
		{Channel: 3, Control: frame.UI, Data: bytes.Repeat([]byte{0x5A}, 40)},
	}

	var stream []byte
	for _, fr := range want {
		stream = append(stream, wireOf(t, fr.Channel, fr.Control, fr.Data)...)
	}

	buf := New(64)
	var got []frame.Frame

	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n

		for {
			fr, ok := buf.GetFrame()
			if !ok {
				break
			}
			got = append(got, fr)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Channel != want[i].Channel || got[i].Control != want[i].Control {
			t.Fatalf("frame %d: got %v want %v", i, got[i], want[i])
		}
		if !bytes.Equal(got[i].Data, want[i].Data) {
			t.Fatalf("frame %d data mismatch: got % X want % X", i, got[i].Data, want[i].Data)
		}
	}
	if buf.ReceivedCount() != uint64(len(want)) {
		t.Fatalf("ReceivedCount = %d, want %d", buf.ReceivedCount(), len(want))
	}
	if buf.DroppedCount() != 0 {
		t.Fatalf("DroppedCount = %d, want 0 on a clean stream", buf.DroppedCount())
	}
}

func TestGetFrame_IdleFlagFillIsIgnored(t *testing.T) {
	buf := New(64)
	stream := append([]byte{frame.FFlag, frame.FFlag, frame.FFlag}, wireOf(t, 1, frame.UIH, []byte("hi"))...)
	buf.Write(stream)

	fr, ok := buf.GetFrame()
	if !ok {
		t.Fatalf("expected a frame")
	}
	if fr.Channel != 1 || string(fr.Data) != "hi" {
		t.Fatalf("got %v", fr)
	}
	if buf.DroppedCount() != 0 {
		t.Fatalf("idle flags should not count as dropped bytes, got %d", buf.DroppedCount())
	}
}

func TestGetFrame_GarbagePrefixIsDroppedAndCounted(t *testing.T) {
	buf := New(64)
	garbage := []byte{0x00, 0x11, 0x22, 0x33}
	stream := append(append([]byte{}, garbage...), wireOf(t, 2, frame.UIH, []byte("x"))...)
	buf.Write(stream)

	fr, ok := buf.GetFrame()
	if !ok {
		t.Fatalf("expected a frame after garbage prefix")
	}
	if fr.Channel != 2 {
		t.Fatalf("got channel %d, want 2", fr.Channel)
	}
	if buf.DroppedCount() != uint64(len(garbage)) {
		t.Fatalf("DroppedCount = %d, want %d", buf.DroppedCount(), len(garbage))
	}
}

func TestGetFrame_CorruptHeaderAdvancesExactlyOneByte(t *testing.T) {
	buf := New(64)
	good := wireOf(t, 3, frame.UIH, []byte("ok"))
	stream := append([]byte{}, good...)
	// Corrupt the control byte (index 2: flag, addr, control).
	stream[2] ^= 0xFF
	// Append a second, valid frame so recovery can be observed.
	stream = append(stream, wireOf(t, 4, frame.UIH, []byte("recovered"))...)
	buf.Write(stream)

	// First attempt fails FCS validation for every shifted alignment until
	// the corrupted frame's bytes are fully consumed; only the second frame
	// should ever successfully decode.
	var got []frame.Frame
	for {
		fr, ok := buf.GetFrame()
		if !ok {
			break
		}
		got = append(got, fr)
	}

	if len(got) != 1 {
		t.Fatalf("expected to recover exactly 1 frame, got %d: %v", len(got), got)
	}
	if got[0].Channel != 4 || string(got[0].Data) != "recovered" {
		t.Fatalf("got %v", got[0])
	}
	if buf.DroppedCount() == 0 {
		t.Fatalf("expected dropped bytes from the corrupted frame")
	}
}

func TestGetFrame_LengthBoundary128(t *testing.T) {
	buf := New(512)
	payload := bytes.Repeat([]byte{0x07}, 128)
	buf.Write(wireOf(t, 5, frame.UIH, payload))

	fr, ok := buf.GetFrame()
	if !ok {
		t.Fatalf("expected a frame")
	}
	if len(fr.Data) != 128 {
		t.Fatalf("got payload len %d, want 128", len(fr.Data))
	}
}

func TestGetFrame_NeedsMoreDataReturnsFalseWithoutConsuming(t *testing.T) {
	buf := New(64)
	full := wireOf(t, 1, frame.UIH, []byte("partial"))
	buf.Write(full[:len(full)-2]) // withhold the FCS+flag trailer

	if _, ok := buf.GetFrame(); ok {
		t.Fatalf("expected GetFrame to report no frame yet")
	}
	buf.Write(full[len(full)-2:])
	fr, ok := buf.GetFrame()
	if !ok {
		t.Fatalf("expected frame once remaining bytes arrive")
	}
	if string(fr.Data) != "partial" {
		t.Fatalf("got %v", fr)
	}
}

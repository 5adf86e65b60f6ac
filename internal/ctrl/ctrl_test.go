package ctrl

import (
	"bytes"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		typ   byte
		value []byte
	}{
		{"CLD no value", CCLD | CR, nil},
		{"TEST short value", CTEST | CR, []byte("1234")},
		{"MSC value", CMSC | CR, []byte{ChannelField(3), SDV | SRTC}},
		{"value over 127 bytes", CNSC, bytes.Repeat([]byte{0x11}, 200)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := Encode(tc.typ, tc.value)
			msg, n, ok := Decode(wire)
			if !ok {
				t.Fatalf("Decode failed")
			}
			if n != len(wire) {
				t.Fatalf("consumed %d, want %d", n, len(wire))
			}
			if msg.Type != tc.typ {
				t.Fatalf("type = 0x%02X, want 0x%02X", msg.Type, tc.typ)
			}
			if !bytes.Equal(msg.Value, tc.value) {
				t.Fatalf("value = % X, want % X", msg.Value, tc.value)
			}
		})
	}
}

func TestIsCommandAndAck(t *testing.T) {
	cmd := CMSC | CR
	if !IsCommand(cmd) {
		t.Fatalf("expected CR-set type to be a command")
	}
	ack := Ack(cmd)
	if IsCommand(ack) {
		t.Fatalf("Ack should clear CR")
	}
	if BaseType(cmd) != CMSC || BaseType(ack) != CMSC {
		t.Fatalf("BaseType should be stable across CR toggling")
	}
}

func TestDecode_IncompleteReturnsFalse(t *testing.T) {
	if _, _, ok := Decode([]byte{CTEST}); ok {
		t.Fatalf("expected incomplete header to fail")
	}
	// length says 5 bytes of value but only 2 are present.
	short := Encode(CTEST, []byte("12345"))[:4]
	if _, _, ok := Decode(short); ok {
		t.Fatalf("expected truncated value to fail")
	}
}

func TestChannelFieldRoundTrip(t *testing.T) {
	for ch := 0; ch <= 63; ch++ {
		if got := ChannelOf(ChannelField(ch)); got != ch {
			t.Fatalf("channel %d round-tripped as %d", ch, got)
		}
	}
}

func TestDecode_MultipleMessagesInOnePayload(t *testing.T) {
	payload := append(Encode(CMSC|CR, []byte{ChannelField(1), SDV}), Encode(CCLD|CR, nil)...)

	msg1, n1, ok := Decode(payload)
	if !ok || msg1.Type != CMSC|CR {
		t.Fatalf("first message decode failed: %v %v", msg1, ok)
	}
	msg2, n2, ok := Decode(payload[n1:])
	if !ok || msg2.Type != CCLD|CR {
		t.Fatalf("second message decode failed: %v %v", msg2, ok)
	}
	if n1+n2 != len(payload) {
		t.Fatalf("consumed %d+%d, want %d", n1, n2, len(payload))
	}
}

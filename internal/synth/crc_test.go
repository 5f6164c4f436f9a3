package synth

import (
	"bytes"
	"testing"
)

func TestModbusCRCKnownVector(t *testing.T) {
	// The textbook Modbus RTU "Read Holding Registers" query example:
	// slave 0x11, function 0x03, address 0x006B, quantity 0x0003.
	frame := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	want := []byte{0x76, 0x87}

	got := ModbusCRC(frame)
	if !bytes.Equal(got, want) {
		t.Fatalf("ModbusCRC(%x) = %x, want %x", frame, got, want)
	}
}

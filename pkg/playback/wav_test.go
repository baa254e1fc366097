package playback

import (
	"encoding/binary"
	"testing"
)

func TestWrapPCM16Header(t *testing.T) {
	pcm := make([]byte, 320)
	out := WrapPCM16(pcm, 16000, 1)
	if len(out) != 44+len(pcm) {
		t.Fatalf("length = %d", len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
		t.Fatalf("bad chunk markers")
	}
	if binary.LittleEndian.Uint32(out[4:8]) != uint32(36+len(pcm)) {
		t.Fatalf("riff size wrong")
	}
	if binary.LittleEndian.Uint16(out[22:24]) != 1 {
		t.Fatalf("channels wrong")
	}
	if binary.LittleEndian.Uint32(out[24:28]) != 16000 {
		t.Fatalf("rate wrong")
	}
	if binary.LittleEndian.Uint32(out[28:32]) != 32000 {
		t.Fatalf("byte rate wrong")
	}
	if binary.LittleEndian.Uint32(out[40:44]) != uint32(len(pcm)) {
		t.Fatalf("data size wrong")
	}
}

func TestWrapPCM16Defaults(t *testing.T) {
	out := WrapPCM16([]byte{0, 0}, 0, 0)
	if binary.LittleEndian.Uint32(out[24:28]) != 16000 {
		t.Fatalf("default rate not applied")
	}
	if binary.LittleEndian.Uint16(out[22:24]) != 1 {
		t.Fatalf("default channels not applied")
	}
}

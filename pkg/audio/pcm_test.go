package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestPCMRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234, -5678}
	var buf bytes.Buffer
	for _, s := range samples {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	pcm := buf.Bytes()

	floats := PCM16ToFloat32(pcm)
	back := Float32ToPCM16(floats)

	if !bytes.Equal(pcm, back) {
		t.Fatalf("round trip mismatch:\nin  = %v\nout = %v", pcm, back)
	}
}

func TestRMSSilence(t *testing.T) {
	silence := make([]byte, 320)
	if r := RMS(silence); r != 0 {
		t.Fatalf("RMS(silence) = %v, want 0", r)
	}
}

func TestRMSFullScale(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:2], uint16(int16(32767)))
	binary.LittleEndian.PutUint16(pcm[2:4], 0x8000) // int16(-32768)
	r := RMS(pcm)
	if r < 0.99 || r > 1.01 {
		t.Fatalf("RMS(full scale) = %v, want ~1.0", r)
	}
}

package narration

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeDecodeFixedFormat(t *testing.T) {
	pcm := Silence(2 * time.Second)
	var buf bytes.Buffer
	if err := EncodeWAV(&buf, pcm); err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	decoded, err := DecodeWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("pcm length %d != %d", len(decoded), len(pcm))
	}
	if PCMDuration(decoded) != 2*time.Second {
		t.Fatalf("duration = %v", PCMDuration(decoded))
	}
}

func TestEncodeRejectsUnalignedPCM(t *testing.T) {
	if err := EncodeWAV(&bytes.Buffer{}, make([]byte, 3)); err == nil {
		t.Fatal("odd byte count should be rejected")
	}
}

func TestDecodeRejectsForeignFormats(t *testing.T) {
	build := func(format, channels, bits uint16, rate uint32) []byte {
		var buf bytes.Buffer
		_ = EncodeWAV(&buf, Silence(100*time.Millisecond))
		data := buf.Bytes()
		binary.LittleEndian.PutUint16(data[20:22], format)
		binary.LittleEndian.PutUint16(data[22:24], channels)
		binary.LittleEndian.PutUint32(data[24:28], rate)
		binary.LittleEndian.PutUint16(data[34:36], bits)
		return data
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"not riff", []byte("ID3\x03plainly an mp3 file, not wav")},
		{"float format", build(3, ChannelCount, BitsPerSample, SampleRate)},
		{"stereo", build(1, 2, BitsPerSample, SampleRate)},
		{"wrong rate", build(1, ChannelCount, BitsPerSample, 44100)},
		{"eight bit", build(1, ChannelCount, 8, SampleRate)},
		{"truncated", wavTruncated(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeWAV(tt.data); err == nil {
				t.Fatal("expected decode failure")
			}
		})
	}
}

func wavTruncated(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := EncodeWAV(&buf, Silence(time.Second)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()[:wavHeaderSize+10]
}

func TestDecodeSkipsUnknownChunks(t *testing.T) {
	pcm := Silence(time.Second)
	var body bytes.Buffer
	_ = EncodeWAV(&body, pcm)
	data := body.Bytes()

	// Splice a LIST chunk between fmt and data.
	list := append([]byte("LIST"), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(list[4:8], 4)
	list = append(list, []byte("INFO")...)

	spliced := append([]byte{}, data[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, data[36:]...)
	binary.LittleEndian.PutUint32(spliced[4:8], uint32(len(spliced)-8))

	decoded, err := DecodeWAV(spliced)
	if err != nil {
		t.Fatalf("DecodeWAV with LIST chunk: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("pcm length %d != %d", len(decoded), len(pcm))
	}
}

func TestSilenceSizing(t *testing.T) {
	if got := len(Silence(time.Second)); got != SampleRate*2 {
		t.Fatalf("one second of silence = %d bytes, want %d", got, SampleRate*2)
	}
	if got := len(Silence(-time.Second)); got != 0 {
		t.Fatalf("negative duration should yield no audio, got %d bytes", got)
	}
}

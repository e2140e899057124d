package narration

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// All narration audio is normalized to this format before assembly.
const (
	SampleRate     = 22050
	BitsPerSample  = 16
	ChannelCount   = 1
	bytesPerSample = BitsPerSample / 8
	bytesPerSecond = SampleRate * ChannelCount * bytesPerSample
)

// wavHeaderSize is the canonical RIFF/fmt/data header length for PCM.
const wavHeaderSize = 44

// EncodeWAV writes pcm (raw 16-bit little-endian mono samples) as a WAV
// stream.
func EncodeWAV(w io.Writer, pcm []byte) error {
	if len(pcm)%bytesPerSample != 0 {
		return fmt.Errorf("pcm length %d is not sample aligned", len(pcm))
	}

	var header [wavHeaderSize]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(wavHeaderSize-8+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], ChannelCount)
	binary.LittleEndian.PutUint32(header[24:28], SampleRate)
	binary.LittleEndian.PutUint32(header[28:32], bytesPerSecond)
	binary.LittleEndian.PutUint16(header[32:34], ChannelCount*bytesPerSample)
	binary.LittleEndian.PutUint16(header[34:36], BitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// DecodeWAV parses a WAV payload and returns its raw PCM data, insisting on
// the pipeline's fixed format. Chunks other than fmt and data are skipped.
func DecodeWAV(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE payload")
	}

	var (
		pcm      []byte
		haveFmt  bool
		haveData bool
	)
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := data[offset+8:]
		if chunkLen > len(body) {
			return nil, fmt.Errorf("chunk %q overruns payload", chunkID)
		}
		body = body[:chunkLen]

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, errors.New("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			rate := binary.LittleEndian.Uint32(body[4:8])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 {
				return nil, fmt.Errorf("unsupported audio format %d, need PCM", format)
			}
			if channels != ChannelCount || rate != SampleRate || bits != BitsPerSample {
				return nil, fmt.Errorf("unsupported format %d ch %d Hz %d bit, need %d ch %d Hz %d bit",
					channels, rate, bits, ChannelCount, SampleRate, BitsPerSample)
			}
			haveFmt = true
		case "data":
			pcm = bytes.Clone(body)
			haveData = true
		}

		// Chunks are word aligned.
		offset += 8 + chunkLen
		if chunkLen%2 == 1 {
			offset++
		}
	}

	if !haveFmt || !haveData {
		return nil, errors.New("missing fmt or data chunk")
	}
	return pcm, nil
}

// Silence returns raw PCM of zeros lasting d, sample aligned.
func Silence(d time.Duration) []byte {
	if d < 0 {
		d = 0
	}
	samples := int(d.Seconds() * SampleRate)
	return make([]byte, samples*bytesPerSample)
}

// PCMDuration returns the play time of raw PCM in the pipeline format.
func PCMDuration(pcm []byte) time.Duration {
	samples := len(pcm) / bytesPerSample
	return time.Duration(float64(samples) / SampleRate * float64(time.Second))
}

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

var errNotWave = errors.New("not a RIFF/WAVE stream")

// Info describes a decoded PCM wave header
type Info struct {
	SampleRate    uint32  `json:"sampleRate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bitsPerSample"`
	Frames        uint32  `json:"frames"`
	Duration      float64 `json:"duration"` // seconds
}

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// DecodeInfo walks the RIFF chunks of r and returns the format and frame count.
// Chunks other than "fmt " and "data" are skipped. size is the total stream size,
// used to clamp a data chunk whose declared length runs past the end.
func DecodeInfo(r io.Reader, size int64) (*Info, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("%w: %s", errNotWave, err)
	}
	if !bytes.Equal(riff[0:4], []byte("RIFF")) || !bytes.Equal(riff[8:12], []byte("WAVE")) {
		return nil, errNotWave
	}
	remain := size - 12

	var (
		fc      *fmtChunk
		hdr     [8]byte
		dataLen int64 = -1
	)
	for dataLen < 0 {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		remain -= 8
		id := string(hdr[0:4])
		n := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		switch id {
		case "fmt ":
			if n < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d", n)
			}
			fc = new(fmtChunk)
			if err := binary.Read(r, binary.LittleEndian, fc); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			if err := skip(r, n-16+n%2); err != nil {
				return nil, err
			}
		case "data":
			if fc == nil {
				return nil, errors.New("data chunk before fmt chunk")
			}
			dataLen = n
			if remain >= 0 && dataLen > remain {
				dataLen = remain
			}
		default:
			if err := skip(r, n+n%2); err != nil {
				return nil, err
			}
		}
		remain -= n + n%2
	}

	if fc.AudioFormat != formatPCM && fc.AudioFormat != formatExtensible {
		return nil, fmt.Errorf("unsupported audio format: %d", fc.AudioFormat)
	}
	if fc.SampleRate == 0 || fc.BlockAlign == 0 || fc.NumChannels == 0 {
		return nil, fmt.Errorf("invalid fmt chunk: rate %d, align %d, channels %d",
			fc.SampleRate, fc.BlockAlign, fc.NumChannels)
	}

	info := &Info{
		SampleRate:    fc.SampleRate,
		Channels:      fc.NumChannels,
		BitsPerSample: fc.BitsPerSample,
		Frames:        uint32(dataLen / int64(fc.BlockAlign)),
	}
	info.Duration = float64(info.Frames) / float64(info.SampleRate)
	return info, nil
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("skip chunk: %w", err)
	}
	return nil
}

// EncodePCM16 builds a mono 16-bit PCM wave from samples.
func EncodePCM16(samples []int16, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, fmtChunk{
		AudioFormat:   formatPCM,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
	})
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	_ = binary.Write(buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

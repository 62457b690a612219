package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// EncodeWAV wraps 16-bit PCM in a minimal 44-byte RIFF/WAV header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const headerSize = 44
	dataSize := len(pcm)
	buf := make([]byte, headerSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV parses a WAV file and returns its samples as 16-bit PCM
// together with the stream format. Sources with a different bit depth are
// rescaled to 16 bits.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	return decodeWAV(bytes.NewReader(data))
}

func decodeWAV(r io.ReadSeeker) ([]byte, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode WAV: %w", err)
	}
	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return intBufferToPCM16(buf, int(dec.BitDepth)), f, nil
}

func intBufferToPCM16(buf *goaudio.IntBuffer, bitDepth int) []byte {
	shift := bitDepth - 16
	out := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Package wav reads and writes canonical 44-byte-header RIFF/WAVE files
// holding 16-bit PCM.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/handsfree/pkg/audio"
)

// MediaType is the MIME type of the files produced by this package.
const MediaType = "audio/wav"

// HeaderSize is the size of the canonical header written by [Encode].
const HeaderSize = 44

const bitsPerSample = 16

// ErrInvalid is returned by [Decode] for data that is not 16-bit PCM WAVE.
var ErrInvalid = errors.New("wav: invalid or unsupported file")

// Encode wraps int16 LE PCM in a WAVE container.
func Encode(pcm []byte, f audio.Format) []byte {
	buf := make([]byte, HeaderSize+len(pcm))
	PutHeader(buf[:HeaderSize], f, len(pcm))
	copy(buf[HeaderSize:], pcm)
	return buf
}

// PutHeader writes a canonical header for dataSize bytes of PCM into
// dst[:HeaderSize].
func PutHeader(dst []byte, f audio.Format, dataSize int) {
	blockAlign := f.Channels * bitsPerSample / 8

	copy(dst[0:4], "RIFF")
	binary.LittleEndian.PutUint32(dst[4:8], uint32(36+dataSize))
	copy(dst[8:12], "WAVE")

	copy(dst[12:16], "fmt ")
	binary.LittleEndian.PutUint32(dst[16:20], 16)
	binary.LittleEndian.PutUint16(dst[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(dst[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(dst[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(dst[28:32], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(dst[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(dst[34:36], bitsPerSample)

	copy(dst[36:40], "data")
	binary.LittleEndian.PutUint32(dst[40:44], uint32(dataSize))
}

// Decode returns the PCM payload and format of a 16-bit PCM WAVE file. It
// walks the chunk list, so files with extra chunks (LIST, fact) are accepted.
func Decode(data []byte) ([]byte, audio.Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, audio.Format{}, ErrInvalid
	}

	var (
		f       audio.Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			// Streams written before the size was known carry a bogus length.
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, audio.Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalid)
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return nil, audio.Format{}, fmt.Errorf("%w: audio format %d", ErrInvalid, format)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14:]); bits != bitsPerSample {
				return nil, audio.Format{}, fmt.Errorf("%w: %d bits per sample", ErrInvalid, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, audio.Format{}, fmt.Errorf("%w: data before fmt", ErrInvalid)
			}
			return data[body : body+size], f, nil
		}

		off = body + size + size%2
	}
	return nil, audio.Format{}, fmt.Errorf("%w: no data chunk", ErrInvalid)
}

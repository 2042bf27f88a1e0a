package loqui

import (
	"encoding/binary"
	"fmt"
	"time"
)

const wavHeaderSize = 44

// PCMToWAV wraps raw PCM audio data with a standard little-endian RIFF/WAVE
// header (PCM=1, 16 bits per sample).
func PCMToWAV(pcmData []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcmData)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, wavHeaderSize)

	// RIFF chunk descriptor
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen)) // File size - 8
	copy(header[8:12], "WAVE")

	// fmt sub-chunk
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)                    // Sub-chunk size (16 for PCM)
	binary.LittleEndian.PutUint16(header[20:22], 1)                     // Audio format (1 = PCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))      // Number of channels
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))    // Sample rate
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))      // Byte rate
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))    // Block align
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample)) // Bits per sample

	// data sub-chunk
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen)) // Data size

	return append(header, pcmData...)
}

// WAVInfo is the decoded shape of a WAV header.
type WAVInfo struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
	DataLen       int
}

// DecodeWAVHeader reads back the 44-byte header written by PCMToWAV.
func DecodeWAVHeader(data []byte) (WAVInfo, error) {
	if len(data) < wavHeaderSize {
		return WAVInfo{}, fmt.Errorf("wav data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("not a RIFF/WAVE header")
	}
	return WAVInfo{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
		DataLen:       int(binary.LittleEndian.Uint32(data[40:44])),
	}, nil
}

// WAVClip is one playable/persistable audio unit: the merged PCM of a turn
// inside its WAV container.
type WAVClip struct {
	Data       []byte
	SampleRate int
}

// Duration is byteLength / (sampleRate * 2) for mono PCM16.
func (c *WAVClip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	pcmLen := len(c.Data) - wavHeaderSize
	if pcmLen <= 0 {
		return 0
	}
	seconds := float64(pcmLen) / float64(c.SampleRate*2)
	return time.Duration(seconds * float64(time.Second))
}

package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the canonical 44-byte header written by EncodeWAV
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// wavFormat holds the fields of the "fmt " subchunk needed for decoding.
type wavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)             // Mono
	bitsPerSample := uint16(16)          // 16-bit PCM
	dataSize := uint32(len(samples) * 2) // 2 bytes per sample
	fileSize := 36 + dataSize            // Header is 44 bytes, data starts at offset 44

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes WAV data into interleaved PCM-16 samples.
// It walks the RIFF subchunks so containers with extra metadata chunks
// (LIST, INFO and similar) decode the same as canonical 44-byte files.
// Returns the samples, the channel count, and the sample rate.
func DecodeWAV(data []byte) ([]int16, int, int, error) {
	if len(data) < 12 {
		return nil, 0, 0, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var format *wavFormat
	var audioData []byte

	// Walk subchunks after the 12-byte RIFF prelude.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if chunkSize < 0 || body+chunkSize > len(data) {
			return nil, 0, 0, fmt.Errorf("invalid WAV file: %q chunk size %d exceeds data", chunkID, chunkSize)
		}

		switch chunkID {
		case "fmt ":
			var f wavFormat
			if err := binary.Read(bytes.NewReader(data[body:body+chunkSize]), binary.LittleEndian, &f); err != nil {
				return nil, 0, 0, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			format = &f
		case "data":
			audioData = data[body : body+chunkSize]
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if format == nil {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if audioData == nil {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if format.AudioFormat != 1 {
		return nil, 0, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format.AudioFormat)
	}

	if format.BitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.BitsPerSample)
	}

	if format.NumChannels < 1 || format.NumChannels > 2 {
		return nil, 0, 0, fmt.Errorf("unsupported channel count: %d (only mono and stereo are supported)", format.NumChannels)
	}

	if format.SampleRate == 0 {
		return nil, 0, 0, fmt.Errorf("invalid sample rate: 0")
	}

	// A data chunk with zero samples is valid input: it decodes to an
	// empty sample slice rather than an error.
	numSamples := len(audioData) / 2
	samples := make([]int16, numSamples)
	if numSamples > 0 {
		if err := binary.Read(bytes.NewReader(audioData), binary.LittleEndian, samples); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to read audio samples: %w", err)
		}
	}

	return samples, int(format.NumChannels), int(format.SampleRate), nil
}

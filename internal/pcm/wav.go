package pcm

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAVFile renders a raw PCM buffer as a WAV file for the playback
// collaborator. The buffer must already be in the given format.
func WriteWAVFile(path string, format Format, buf []byte) error {
	if err := format.Validate(buf); err != nil {
		return fmt.Errorf("render wav: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)

	samples := make([]int, len(buf)/bytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(buf[i*bytesPerSample:])))
	}

	ab := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ab); err != nil {
		enc.Close()
		return fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

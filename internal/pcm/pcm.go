// Package pcm holds the fixed audio format shared by every clip in the
// word bank, plus the byte math derived from it. All buffers in the
// pipeline are raw interleaved 16-bit little-endian PCM.
package pcm

import (
	"errors"
	"fmt"

	"github.com/voxlabs/vox-core/internal/config"
)

const bytesPerSample = 2

var (
	ErrEmptyBuffer = errors.New("empty audio buffer")
	ErrMisaligned  = errors.New("buffer not aligned to frame size")
)

// Format is the system-wide PCM format. Only 16-bit depth is supported;
// sample rate and channel count come from configuration.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 48kHz stereo, the format the announcement pipeline
// ships with. One millisecond of it is exactly 192 bytes.
var DefaultFormat = Format{SampleRate: 48000, Channels: 2}

func FromConfig(cfg config.AudioConfig) Format {
	return Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
}

// FrameSize returns the byte width of one sample frame across channels.
func (f Format) FrameSize() int {
	return f.Channels * bytesPerSample
}

// BytesPerMillisecond returns how many buffer bytes one millisecond of
// audio occupies: sampleRate * bytesPerSample * channels / 1000.
func (f Format) BytesPerMillisecond() int {
	return f.SampleRate * bytesPerSample * f.Channels / 1000
}

// SilenceBytes returns the exact byte count of a silence gap of the given
// duration. Deterministic for a fixed format.
func (f Format) SilenceBytes(durationMS int) int {
	if durationMS <= 0 {
		return 0
	}
	return durationMS * f.BytesPerMillisecond()
}

// Silence allocates a zeroed buffer covering durationMS of audio.
func (f Format) Silence(durationMS int) []byte {
	return make([]byte, f.SilenceBytes(durationMS))
}

// Duration returns the playing time in seconds of a buffer of n bytes.
func (f Format) Duration(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(f.SampleRate*bytesPerSample*f.Channels)
}

// Validate rejects buffers that would corrupt byte alignment downstream.
func (f Format) Validate(buf []byte) error {
	if len(buf) == 0 {
		return ErrEmptyBuffer
	}
	if len(buf)%f.FrameSize() != 0 {
		return fmt.Errorf("%w: %d bytes, frame size %d", ErrMisaligned, len(buf), f.FrameSize())
	}
	return nil
}

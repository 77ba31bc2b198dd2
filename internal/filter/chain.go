package filter

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/voxlabs/vox-core/internal/pcm"
)

// chainProcessor is the in-process DSP backend: single-pole highpass and
// lowpass, a hard-knee compressor, and soft-clip distortion, applied in
// that order per channel. Output length always equals input length.
type chainProcessor struct {
	format pcm.Format
}

func NewChainProcessor(format pcm.Format) Processor {
	return &chainProcessor{format: format}
}

func (c *chainProcessor) Process(ctx context.Context, buf []byte, s Settings) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	channels := c.format.Channels
	frames := len(buf) / c.format.FrameSize()

	samples := make([]float64, frames*channels)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(buf[i*2:]))) / 32768.0
	}

	sampleRate := float64(c.format.SampleRate)
	for ch := 0; ch < channels; ch++ {
		if s.HighpassHz > 0 {
			highpass(samples, ch, channels, s.HighpassHz, sampleRate)
		}
		if s.LowpassHz > 0 {
			lowpass(samples, ch, channels, s.LowpassHz, sampleRate)
		}
	}
	if s.CompressionRatio > 1 {
		compress(samples, s.CompressionRatio)
	}
	if s.Distortion > 0 {
		distort(samples, s.Distortion)
	}

	out := make([]byte, len(buf))
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out, nil
}

func highpass(samples []float64, ch, channels int, cutoff, sampleRate float64) {
	rc := 1.0 / (2 * math.Pi * cutoff)
	dt := 1.0 / sampleRate
	alpha := rc / (rc + dt)

	prevIn := samples[ch]
	prevOut := samples[ch]
	for i := ch + channels; i < len(samples); i += channels {
		in := samples[i]
		out := alpha * (prevOut + in - prevIn)
		samples[i] = out
		prevIn = in
		prevOut = out
	}
}

func lowpass(samples []float64, ch, channels int, cutoff, sampleRate float64) {
	rc := 1.0 / (2 * math.Pi * cutoff)
	dt := 1.0 / sampleRate
	alpha := dt / (rc + dt)

	prev := samples[ch]
	for i := ch + channels; i < len(samples); i += channels {
		prev += alpha * (samples[i] - prev)
		samples[i] = prev
	}
}

// compress attenuates everything above a fixed -6dBFS threshold by the
// given ratio, then applies makeup gain back toward the threshold.
func compress(samples []float64, ratio float64) {
	const threshold = 0.5
	for i, v := range samples {
		mag := math.Abs(v)
		if mag <= threshold {
			continue
		}
		compressed := threshold + (mag-threshold)/ratio
		samples[i] = math.Copysign(compressed, v)
	}
}

// distort applies tanh soft clipping with drive proportional to amount.
func distort(samples []float64, amount float64) {
	drive := 1 + amount*9
	norm := math.Tanh(drive)
	for i, v := range samples {
		samples[i] = math.Tanh(v*drive) / norm
	}
}

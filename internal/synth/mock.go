package synth

import (
	"context"
	"hash/fnv"

	"github.com/voxlabs/vox-core/internal/pcm"
)

// mockProvider produces deterministic non-silent PCM derived from the
// word and voice, long enough to exercise concatenation math. Used in
// development and tests.
type mockProvider struct {
	format pcm.Format
}

func NewMockProvider(format pcm.Format) Provider {
	return &mockProvider{format: format}
}

func (m *mockProvider) SynthesizeWord(ctx context.Context, word, voice string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	h := fnv.New32a()
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(word))
	seed := h.Sum32()

	// 80ms per letter, clamped to something announcement-like.
	durMS := 80 * len(word)
	if durMS < 200 {
		durMS = 200
	}
	if durMS > 1200 {
		durMS = 1200
	}

	buf := m.format.Silence(durMS)
	state := seed
	for i := range buf {
		state = state*1664525 + 1013904223
		buf[i] = byte(state >> 24)
	}
	return buf, nil
}

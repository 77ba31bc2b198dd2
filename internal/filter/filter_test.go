package filter

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/voxlabs/vox-core/internal/pcm"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sineBuffer builds a 440Hz tone so the chain has something to shape.
func sineBuffer(ms int) []byte {
	buf := pcm.DefaultFormat.Silence(ms)
	frames := len(buf) / pcm.DefaultFormat.FrameSize()
	for i := 0; i < frames; i++ {
		v := int16(20000 * math.Sin(2*math.Pi*440*float64(i)/48000))
		for ch := 0; ch < pcm.DefaultFormat.Channels; ch++ {
			binary.LittleEndian.PutUint16(buf[(i*pcm.DefaultFormat.Channels+ch)*2:], uint16(v))
		}
	}
	return buf
}

func TestApplyOffIsPassthrough(t *testing.T) {
	e := NewEngine(pcm.DefaultFormat, NewChainProcessor(pcm.DefaultFormat), newLogger())
	in := sineBuffer(100)
	out, err := e.Apply(context.Background(), in, Spec{Preset: PresetOff})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatal("off preset must not touch the buffer")
	}
}

func TestApplyPresetChangesAudio(t *testing.T) {
	e := NewEngine(pcm.DefaultFormat, NewChainProcessor(pcm.DefaultFormat), newLogger())
	in := sineBuffer(100)

	for _, preset := range []Preset{PresetLight, PresetHeavy} {
		out, err := e.Apply(context.Background(), in, Spec{Preset: preset})
		if err != nil {
			t.Fatalf("%s: apply: %v", preset, err)
		}
		if len(out) != len(in) {
			t.Fatalf("%s: length changed: %d -> %d", preset, len(in), len(out))
		}
		if bytes.Equal(in, out) {
			t.Fatalf("%s: expected the chain to modify audio", preset)
		}
	}
}

func TestApplyCustomOverridesPreset(t *testing.T) {
	e := NewEngine(pcm.DefaultFormat, NewChainProcessor(pcm.DefaultFormat), newLogger())
	in := sineBuffer(50)

	// Custom with all-zero settings is an effective no-op chain run.
	out, err := e.Apply(context.Background(), in, Spec{Preset: PresetOff, Custom: &Settings{}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
}

func TestApplyDeterministic(t *testing.T) {
	e := NewEngine(pcm.DefaultFormat, NewChainProcessor(pcm.DefaultFormat), newLogger())
	in := sineBuffer(60)
	a, err := e.Apply(context.Background(), in, Spec{Preset: PresetHeavy})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	b, err := e.Apply(context.Background(), in, Spec{Preset: PresetHeavy})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("chain output must be deterministic")
	}
}

type failingProcessor struct{}

func (failingProcessor) Process(context.Context, []byte, Settings) ([]byte, error) {
	return nil, errors.New("dsp exploded")
}

func TestApplyProcessorFailureIsFatal(t *testing.T) {
	e := NewEngine(pcm.DefaultFormat, failingProcessor{}, newLogger())
	_, err := e.Apply(context.Background(), sineBuffer(20), Spec{Preset: PresetLight})
	if !errors.Is(err, ErrProcessor) {
		t.Fatalf("expected ErrProcessor, got %v", err)
	}
}

func TestApplyRejectsMalformedBuffer(t *testing.T) {
	e := NewEngine(pcm.DefaultFormat, NewChainProcessor(pcm.DefaultFormat), newLogger())
	if _, err := e.Apply(context.Background(), nil, Spec{Preset: PresetLight}); !errors.Is(err, ErrProcessor) {
		t.Fatalf("expected ErrProcessor for empty buffer, got %v", err)
	}
}

func TestParsePreset(t *testing.T) {
	if p, err := ParsePreset(""); err != nil || p != PresetOff {
		t.Fatalf("empty preset should default to off, got %v %v", p, err)
	}
	if _, err := ParsePreset("shouty"); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("expected ErrUnknownPreset, got %v", err)
	}
	for _, name := range []string{"off", "light", "heavy"} {
		if _, err := ParsePreset(name); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

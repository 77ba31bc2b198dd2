// Package filter applies the announcement effects chain (highpass,
// lowpass, compression, distortion) to an assembled buffer. The engine
// resolves preset or custom parameters and delegates the DSP work to a
// Processor collaborator.
package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/pcm"
)

var (
	ErrProcessor     = errors.New("filter processing failed")
	ErrUnknownPreset = errors.New("unknown filter preset")
)

type Preset string

const (
	PresetOff   Preset = "off"
	PresetLight Preset = "light"
	PresetHeavy Preset = "heavy"
)

// Settings are the concrete effect parameters for one chain run.
type Settings struct {
	HighpassHz       float64
	LowpassHz        float64
	CompressionRatio float64
	Distortion       float64
}

// Spec selects either a named preset or caller-supplied settings.
// A non-nil Custom always wins over the preset name.
type Spec struct {
	Preset Preset
	Custom *Settings
}

func ParsePreset(name string) (Preset, error) {
	switch Preset(name) {
	case PresetOff, PresetLight, PresetHeavy:
		return Preset(name), nil
	case "":
		return PresetOff, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
}

func presetSettings(p Preset) (Settings, bool) {
	switch p {
	case PresetLight:
		return Settings{HighpassHz: 300, LowpassHz: 5000, CompressionRatio: 2, Distortion: 0.1}, true
	case PresetHeavy:
		return Settings{HighpassHz: 500, LowpassHz: 3000, CompressionRatio: 4, Distortion: 0.3}, true
	default:
		return Settings{}, false
	}
}

// Processor runs the actual DSP chain.
type Processor interface {
	Process(ctx context.Context, buf []byte, s Settings) ([]byte, error)
}

// FromConfig builds the configured processor backend.
func FromConfig(cfg config.FilterConfig, format pcm.Format) (Processor, error) {
	switch cfg.Mode {
	case "chain":
		return NewChainProcessor(format), nil
	case "exec":
		return NewExecProcessor(cfg.Command, format)
	default:
		return nil, fmt.Errorf("unknown filter mode %q", cfg.Mode)
	}
}

type Engine struct {
	format pcm.Format
	proc   Processor
	log    *slog.Logger
}

func NewEngine(format pcm.Format, proc Processor, log *slog.Logger) *Engine {
	return &Engine{
		format: format,
		proc:   proc,
		log:    log.With(slog.String("component", "filter")),
	}
}

// Apply runs the effects chain described by spec. PresetOff with no
// custom settings is a passthrough. A processor failure is fatal to the
// request: there is no partially filtered fallback.
func (e *Engine) Apply(ctx context.Context, buf []byte, spec Spec) ([]byte, error) {
	var settings Settings
	if spec.Custom != nil {
		settings = *spec.Custom
	} else {
		var active bool
		settings, active = presetSettings(spec.Preset)
		if !active {
			return buf, nil
		}
	}

	if err := e.format.Validate(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}

	out, err := e.proc.Process(ctx, buf, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	if err := e.format.Validate(out); err != nil {
		return nil, fmt.Errorf("%w: processor returned %v", ErrProcessor, err)
	}
	return out, nil
}

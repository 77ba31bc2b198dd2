// Package synth abstracts the external text-to-speech provider. The
// engine treats the provider as opaque and only controls how many calls
// run at once; see the generator package for that.
package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/pcm"
)

var ErrEmptyResult = errors.New("provider returned no audio")

// Provider synthesizes a single word into raw PCM in the system format.
type Provider interface {
	SynthesizeWord(ctx context.Context, word, voice string) ([]byte, error)
}

// FromConfig builds the configured provider backend.
func FromConfig(cfg config.SynthConfig, format pcm.Format) (Provider, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockProvider(format), nil
	case "exec":
		return NewExecProvider(cfg.Command, format)
	case "http":
		return NewHTTPProvider(cfg.Endpoint, cfg.APIKey, format), nil
	default:
		return nil, fmt.Errorf("unknown synth mode %q", cfg.Mode)
	}
}

// Package concat assembles an ordered clip and pause sequence into one
// raw PCM buffer with exact silence gaps.
package concat

import (
	"errors"
	"fmt"

	"github.com/voxlabs/vox-core/internal/pcm"
	"github.com/voxlabs/vox-core/internal/token"
	"github.com/voxlabs/vox-core/internal/wordbank"
)

var ErrMalformedClip = errors.New("malformed clip")

// Item is one entry of a composition: a word token with its resolved
// clip, or an explicit pause token (Clip nil).
type Item struct {
	Token token.Token
	Clip  *wordbank.Clip
}

type Engine struct {
	format pcm.Format

	// additivePauses controls what happens when an explicit pause sits
	// between two words: false means the pause replaces the default word
	// gap, true means both apply.
	additivePauses bool
}

func New(format pcm.Format, additivePauses bool) *Engine {
	return &Engine{format: format, additivePauses: additivePauses}
}

// Concatenate walks the composition in order, appending clip bytes and
// deterministic silence. A malformed or empty clip is fatal for the
// whole call: it would corrupt byte alignment for everything after it.
func (e *Engine) Concatenate(items []Item, wordGapMS int) ([]byte, error) {
	var out []byte
	haveWord := false
	pendingPauseMS := 0

	for _, item := range items {
		if item.Token.Kind == token.KindPause {
			pendingPauseMS += item.Token.PauseDurationMS
			continue
		}

		if item.Clip == nil {
			return nil, fmt.Errorf("%w: word %q has no clip", ErrMalformedClip, item.Token.Word)
		}
		if err := e.format.Validate(item.Clip.Audio); err != nil {
			return nil, fmt.Errorf("%w: word %q: %v", ErrMalformedClip, item.Token.Word, err)
		}

		if haveWord {
			gapMS := wordGapMS
			if pendingPauseMS > 0 {
				gapMS = pendingPauseMS
				if e.additivePauses {
					gapMS += wordGapMS
				}
			}
			out = append(out, e.format.Silence(gapMS)...)
		} else if pendingPauseMS > 0 {
			// Leading pause before the first word.
			out = append(out, e.format.Silence(pendingPauseMS)...)
		}

		out = append(out, item.Clip.Audio...)
		haveWord = true
		pendingPauseMS = 0
	}

	// Trailing explicit pauses are honored.
	if pendingPauseMS > 0 {
		out = append(out, e.format.Silence(pendingPauseMS)...)
	}

	return out, nil
}

// Duration returns the playing time of a buffer in this engine's format.
func (e *Engine) Duration(buf []byte) float64 {
	return e.format.Duration(len(buf))
}

package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/voxlabs/vox-core/internal/concat"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/filter"
	"github.com/voxlabs/vox-core/internal/generator"
	"github.com/voxlabs/vox-core/internal/pcm"
	"github.com/voxlabs/vox-core/internal/synth"
	"github.com/voxlabs/vox-core/internal/wordbank"
)

// fakeProvider returns silence of a per-word duration, or fails.
type fakeProvider struct {
	durations map[string]int // ms, default 500
	fail      map[string]bool
}

func (p *fakeProvider) SynthesizeWord(ctx context.Context, word, voice string) ([]byte, error) {
	if p.fail[word] {
		return nil, errors.New("voice model rejected word")
	}
	ms := p.durations[word]
	if ms == 0 {
		ms = 500
	}
	return pcm.DefaultFormat.Silence(ms), nil
}

func newPipeline(t *testing.T, provider synth.Provider) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WordBank.Path = filepath.Join(dir, "bank")
	cfg.WordBank.IndexPath = filepath.Join(dir, "bank", "index.db")

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	bank, err := wordbank.Open(context.Background(), cfg.WordBank, cfg.History, pcm.DefaultFormat, log)
	if err != nil {
		t.Fatalf("open bank: %v", err)
	}
	t.Cleanup(func() { bank.Close() })

	gen := generator.New(bank, provider, cfg.Synth, log)
	assembler := concat.New(pcm.DefaultFormat, cfg.Pipeline.AdditivePauses)
	effects := filter.NewEngine(pcm.DefaultFormat, filter.NewChainProcessor(pcm.DefaultFormat), log)
	return New(cfg.Pipeline, bank, gen, assembler, effects, log)
}

func TestSynthesizeEndToEnd(t *testing.T) {
	// 600ms + 50ms gap + 600ms + 50ms gap + 500ms = 1.8s exactly.
	provider := &fakeProvider{durations: map[string]int{"alert": 600, "zone": 600, "three": 500}}
	o := newPipeline(t, provider)

	res, err := o.Synthesize(context.Background(), Request{
		RequestID: "req-1",
		ScopeID:   "station",
		Voice:     "announcer",
		Text:      "alert zone three",
	}, nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if want := 1800 * pcm.DefaultFormat.BytesPerMillisecond(); len(res.Buffer) != want {
		t.Fatalf("buffer size %d, want %d", len(res.Buffer), want)
	}
	if res.DurationSeconds != 1.8 {
		t.Fatalf("duration %v, want 1.8", res.DurationSeconds)
	}
	if len(res.MatchedWords) != 3 || res.MatchedWords[0] != "alert" ||
		res.MatchedWords[1] != "zone" || res.MatchedWords[2] != "three" {
		t.Fatalf("matched words %v", res.MatchedWords)
	}
	if len(res.SkippedWords) != 0 {
		t.Fatalf("unexpected skips: %v", res.SkippedWords)
	}
}

func TestSynthesizePartialFailure(t *testing.T) {
	provider := &fakeProvider{fail: map[string]bool{"zone": true}}
	o := newPipeline(t, provider)

	res, err := o.Synthesize(context.Background(), Request{
		ScopeID: "station", Voice: "announcer", Text: "alert zone three",
	}, nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.MatchedWords) != 2 {
		t.Fatalf("matched %v, want alert and three", res.MatchedWords)
	}
	if len(res.SkippedWords) != 1 || res.SkippedWords[0].Word != "zone" {
		t.Fatalf("skipped %v, want zone", res.SkippedWords)
	}
}

func TestSynthesizeZeroMatchFails(t *testing.T) {
	provider := &fakeProvider{fail: map[string]bool{"alert": true, "zone": true}}
	o := newPipeline(t, provider)

	_, err := o.Synthesize(context.Background(), Request{
		ScopeID: "station", Voice: "announcer", Text: "alert zone",
	}, nil)
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	o := newPipeline(t, &fakeProvider{})

	if _, err := o.Synthesize(context.Background(), Request{ScopeID: "s", Voice: "v"}, nil); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := o.Synthesize(context.Background(), Request{
		ScopeID: "s", Voice: "v", Text: string(long),
	}, nil); !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("expected ErrTextTooLong, got %v", err)
	}
}

func TestSynthesizeInvalidWordIsSkippedNotFatal(t *testing.T) {
	o := newPipeline(t, &fakeProvider{})

	res, err := o.Synthesize(context.Background(), Request{
		ScopeID: "station", Voice: "announcer", Text: "alert c@fe zone",
	}, nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.MatchedWords) != 2 {
		t.Fatalf("matched %v", res.MatchedWords)
	}
	found := false
	for _, s := range res.SkippedWords {
		if s.Word == "c@fe" {
			found = true
		}
	}
	if !found {
		t.Fatalf("invalid word missing from skips: %v", res.SkippedWords)
	}
}

func TestSynthesizeSecondRunHitsCache(t *testing.T) {
	provider := &fakeProvider{}
	o := newPipeline(t, provider)
	req := Request{ScopeID: "station", Voice: "announcer", Text: "doors closing"}

	first, err := o.Synthesize(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	var mu sync.Mutex
	var cached int
	second, err := o.Synthesize(context.Background(), req, func(stage Stage, word string, counts generator.Counts) {
		mu.Lock()
		if counts.Cached > cached {
			cached = counts.Cached
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if cached != 2 {
		t.Fatalf("cached count %d, want 2", cached)
	}
	if len(first.Buffer) != len(second.Buffer) {
		t.Fatalf("run sizes differ: %d vs %d", len(first.Buffer), len(second.Buffer))
	}
}

func TestSynthesizeProgressStages(t *testing.T) {
	o := newPipeline(t, &fakeProvider{})

	var mu sync.Mutex
	var stages []Stage
	_, err := o.Synthesize(context.Background(), Request{
		ScopeID: "station", Voice: "announcer", Text: "hello",
	}, func(stage Stage, word string, counts generator.Counts) {
		mu.Lock()
		if len(stages) == 0 || stages[len(stages)-1] != stage {
			stages = append(stages, stage)
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	want := []Stage{StageTokenizing, StageCheckingCache, StageGenerating, StageConcatenating, StageFiltering, StageDone}
	if len(stages) != len(want) {
		t.Fatalf("stages %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage %d: got %s, want %s", i, stages[i], want[i])
		}
	}
}

func TestSynthesizeWordGapOverride(t *testing.T) {
	provider := &fakeProvider{durations: map[string]int{"a": 100, "b": 100}}
	o := newPipeline(t, provider)

	gap := 200
	res, err := o.Synthesize(context.Background(), Request{
		ScopeID: "s", Voice: "v", Text: "a b", WordGapMS: &gap,
	}, nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if want := 400 * pcm.DefaultFormat.BytesPerMillisecond(); len(res.Buffer) != want {
		t.Fatalf("buffer size %d, want %d", len(res.Buffer), want)
	}
}

func TestSynthesizeTooManyWords(t *testing.T) {
	o := newPipeline(t, &fakeProvider{})

	text := ""
	for i := 0; i < 70; i++ {
		text += "word "
	}
	_, err := o.Synthesize(context.Background(), Request{ScopeID: "s", Voice: "v", Text: text}, nil)
	if !errors.Is(err, ErrTooManyWords) {
		t.Fatalf("expected ErrTooManyWords, got %v", err)
	}
}

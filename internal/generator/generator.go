// Package generator fills word-bank misses by calling the synthesis
// provider with bounded parallelism. Per-word failures never abort
// sibling requests; the caller gets one outcome per word.
package generator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/synth"
	"github.com/voxlabs/vox-core/internal/wordbank"
)

type Status string

const (
	StatusCached    Status = "cached"
	StatusGenerated Status = "generated"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome is the per-word generation result.
type Outcome struct {
	Word   string
	Status Status
	Reason string
}

// Counts are cumulative progress counters for one invocation. Skipped
// tracks words abandoned by cancellation, kept separate from Failed so
// progress consumers do not mistake a cancelled run for a faulty one.
type Counts struct {
	Cached    int
	Generated int
	Failed    int
	Skipped   int
	Total     int
}

// ProgressFunc receives push-style updates as words resolve. Called from
// worker goroutines, serialized by the generator.
type ProgressFunc func(word string, status Status, counts Counts)

type Generator struct {
	bank     *wordbank.Store
	provider synth.Provider
	limit    int
	timeout  time.Duration
	retries  int
	log      *slog.Logger

	generatedCounter metric.Int64Counter
	cachedCounter    metric.Int64Counter
	failedCounter    metric.Int64Counter
}

func New(bank *wordbank.Store, provider synth.Provider, cfg config.SynthConfig, log *slog.Logger) *Generator {
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g := &Generator{
		bank:     bank,
		provider: provider,
		limit:    limit,
		timeout:  time.Duration(cfg.TimeoutMS) * time.Millisecond,
		retries:  cfg.Retries,
		log:      log.With(slog.String("component", "generator")),
	}
	g.initMetrics()
	return g
}

func (g *Generator) initMetrics() {
	meter := otel.Meter("github.com/voxlabs/vox-core/generator")
	var err error
	if g.generatedCounter, err = meter.Int64Counter("vox_words_generated_total",
		metric.WithDescription("Words synthesized via the provider")); err != nil {
		g.log.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if g.cachedCounter, err = meter.Int64Counter("vox_words_cached_total",
		metric.WithDescription("Words served from the word bank")); err != nil {
		g.log.Warn("failed to create counter", slog.String("error", err.Error()))
	}
	if g.failedCounter, err = meter.Int64Counter("vox_words_failed_total",
		metric.WithDescription("Words that failed synthesis")); err != nil {
		g.log.Warn("failed to create counter", slog.String("error", err.Error()))
	}
}

// GenerateMissing resolves every unique word to a cached or freshly
// generated clip. Missing words are synthesized under the concurrency
// limit; each success is written to the bank before being reported.
// Cancellation marks unstarted and in-flight words as skipped.
func (g *Generator) GenerateMissing(ctx context.Context, scopeID, voice string, words []string, progress ProgressFunc) map[string]Outcome {
	unique := dedupe(words)

	var mu sync.Mutex
	outcomes := make(map[string]Outcome, len(unique))
	counts := Counts{Total: len(unique)}

	record := func(word string, status Status, reason string) {
		mu.Lock()
		outcomes[word] = Outcome{Word: word, Status: status, Reason: reason}
		switch status {
		case StatusCached:
			counts.Cached++
		case StatusGenerated:
			counts.Generated++
		case StatusFailed:
			counts.Failed++
		case StatusSkipped:
			counts.Skipped++
		}
		snapshot := counts
		mu.Unlock()

		switch status {
		case StatusCached:
			g.add(ctx, g.cachedCounter)
		case StatusGenerated:
			g.add(ctx, g.generatedCounter)
		case StatusFailed:
			g.add(ctx, g.failedCounter)
		}
		if progress != nil {
			progress(word, status, snapshot)
		}
	}

	var missing []string
	for _, word := range unique {
		ok, err := g.bank.Has(ctx, wordbank.Key{ScopeID: scopeID, Voice: voice, Word: word})
		if err != nil {
			g.log.Warn("bank lookup failed", slog.String("word", word), slog.String("error", err.Error()))
			record(word, StatusFailed, "cache lookup failed")
			continue
		}
		if ok {
			record(word, StatusCached, "")
			continue
		}
		missing = append(missing, word)
	}

	// The semaphore is the single serialization point for provider load.
	sema := make(chan struct{}, g.limit)
	var wg sync.WaitGroup
	for _, word := range missing {
		wg.Add(1)
		go func(word string) {
			defer wg.Done()

			select {
			case sema <- struct{}{}:
				defer func() { <-sema }()
			case <-ctx.Done():
				record(word, StatusSkipped, "cancelled")
				return
			}
			if ctx.Err() != nil {
				record(word, StatusSkipped, "cancelled")
				return
			}

			audio, err := g.synthesize(ctx, word, voice)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					record(word, StatusSkipped, "cancelled")
					return
				}
				g.log.Warn("synthesis failed",
					slog.String("word", word), slog.String("voice", voice),
					slog.String("error", err.Error()))
				record(word, StatusFailed, err.Error())
				return
			}

			key := wordbank.Key{ScopeID: scopeID, Voice: voice, Word: word}
			if err := g.bank.Put(ctx, key, audio); err != nil {
				g.log.Warn("bank write failed",
					slog.String("key", key.String()), slog.String("error", err.Error()))
				record(word, StatusFailed, "cache write failed")
				return
			}
			record(word, StatusGenerated, "")
		}(word)
	}
	wg.Wait()

	return outcomes
}

func (g *Generator) synthesize(ctx context.Context, word, voice string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		audio, err := g.provider.SynthesizeWord(callCtx, word, voice)
		cancel()
		if err == nil {
			return audio, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (g *Generator) add(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}

func dedupe(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// Package orchestrator runs the announcement pipeline: tokenize, check
// the word bank, generate misses, concatenate, filter. Per-word
// failures accumulate into the result; stage failures abort the request.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxlabs/vox-core/internal/concat"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/filter"
	"github.com/voxlabs/vox-core/internal/generator"
	"github.com/voxlabs/vox-core/internal/pcm"
	"github.com/voxlabs/vox-core/internal/token"
	"github.com/voxlabs/vox-core/internal/wordbank"
)

type Stage string

const (
	StageTokenizing    Stage = "tokenizing"
	StageCheckingCache Stage = "checking_cache"
	StageGenerating    Stage = "generating"
	StageConcatenating Stage = "concatenating"
	StageFiltering     Stage = "filtering"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

var (
	ErrEmptyText    = errors.New("empty request text")
	ErrTextTooLong  = errors.New("request text too long")
	ErrTooManyWords = errors.New("too many words in request")
	ErrNoContent    = errors.New("no content to synthesize")
)

type Request struct {
	RequestID string
	ScopeID   string
	Voice     string
	Text      string
	Filter    filter.Spec
	WordGapMS *int // nil uses the configured default
}

type Skipped struct {
	Word   string
	Reason string
}

type Result struct {
	Buffer          []byte
	Format          pcm.Format
	MatchedWords    []string
	SkippedWords    []Skipped
	DurationSeconds float64
}

// ProgressFunc receives stage transitions and word counts. Word may be
// empty for pure stage transitions.
type ProgressFunc func(stage Stage, word string, counts generator.Counts)

type Orchestrator struct {
	cfg       config.PipelineConfig
	tokenizer *token.Tokenizer
	bank      *wordbank.Store
	gen       *generator.Generator
	assembler *concat.Engine
	effects   *filter.Engine
	log       *slog.Logger
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	clock     func() time.Time
}

func New(cfg config.PipelineConfig, bank *wordbank.Store, gen *generator.Generator,
	assembler *concat.Engine, effects *filter.Engine, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		tokenizer: token.New(cfg.MaxWordLength),
		bank:      bank,
		gen:       gen,
		assembler: assembler,
		effects:   effects,
		log:       log.With(slog.String("component", "orchestrator")),
		tracer:    otel.Tracer("github.com/voxlabs/vox-core/orchestrator"),
		clock:     time.Now,
	}
	var err error
	if o.duration, err = otel.Meter("github.com/voxlabs/vox-core/orchestrator").Float64Histogram(
		"vox_announcement_duration_seconds",
		metric.WithDescription("Audio duration of finished announcements"),
		metric.WithUnit("s")); err != nil {
		o.log.Warn("failed to create histogram", slog.String("error", err.Error()))
	}
	return o
}

// Synthesize runs the whole pipeline for one request. The returned
// error is non-nil only for fatal stage failures; per-word problems
// land in Result.SkippedWords.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "vox.synthesize",
		trace.WithAttributes(
			attribute.String("vox.scope", req.ScopeID),
			attribute.String("vox.voice", req.Voice),
		))
	defer span.End()

	result, err := o.run(ctx, req, progress)
	o.record(req, result, err)
	if err != nil {
		if progress != nil {
			progress(StageFailed, "", generator.Counts{})
		}
		span.AddEvent("failed", trace.WithAttributes(attribute.String("error", err.Error())))
		return Result{}, err
	}
	if o.duration != nil {
		o.duration.Record(ctx, result.DurationSeconds)
	}
	if progress != nil {
		progress(StageDone, "", generator.Counts{})
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	report := func(stage Stage) {
		if progress != nil {
			progress(stage, "", generator.Counts{})
		}
	}

	if len(req.Text) == 0 {
		return Result{}, ErrEmptyText
	}
	if len(req.Text) > o.cfg.MaxTextLength {
		return Result{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTextTooLong, len(req.Text), o.cfg.MaxTextLength)
	}

	report(StageTokenizing)
	tokens, invalid := o.tokenizer.Tokenize(req.Text)

	var skipped []Skipped
	for _, inv := range invalid {
		skipped = append(skipped, Skipped{Word: inv.Word, Reason: "validation: " + inv.Reason})
	}

	var words []string
	for _, tok := range tokens {
		if tok.Kind == token.KindWord {
			words = append(words, tok.Word)
		}
	}
	if len(words) > o.cfg.MaxWords {
		return Result{}, fmt.Errorf("%w: %d words, limit %d", ErrTooManyWords, len(words), o.cfg.MaxWords)
	}

	report(StageCheckingCache)
	report(StageGenerating)
	outcomes := o.gen.GenerateMissing(ctx, req.ScopeID, req.Voice, words, func(word string, status generator.Status, counts generator.Counts) {
		if progress != nil {
			progress(StageGenerating, word, counts)
		}
	})
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	clips := make(map[string]*wordbank.Clip)
	for word, outcome := range outcomes {
		switch outcome.Status {
		case generator.StatusCached, generator.StatusGenerated:
			clip, err := o.bank.Get(ctx, wordbank.Key{ScopeID: req.ScopeID, Voice: req.Voice, Word: word})
			if err != nil {
				o.log.Warn("clip readback failed",
					slog.String("word", word), slog.String("error", err.Error()))
				skipped = append(skipped, Skipped{Word: word, Reason: "cache read failed"})
				continue
			}
			clips[word] = &clip
		default:
			skipped = append(skipped, Skipped{Word: word, Reason: string(outcome.Status) + ": " + outcome.Reason})
		}
	}

	// Re-impose token order; generation completion order is irrelevant.
	var items []concat.Item
	var matched []string
	for _, tok := range tokens {
		if tok.Kind == token.KindPause {
			items = append(items, concat.Item{Token: tok})
			continue
		}
		clip, ok := clips[tok.Word]
		if !ok {
			continue
		}
		items = append(items, concat.Item{Token: tok, Clip: clip})
		matched = append(matched, tok.Word)
	}

	if len(matched) == 0 {
		return Result{}, ErrNoContent
	}

	gapMS := o.cfg.WordGapMS
	if req.WordGapMS != nil {
		gapMS = *req.WordGapMS
	}

	report(StageConcatenating)
	buffer, err := o.assembler.Concatenate(items, gapMS)
	if err != nil {
		return Result{}, fmt.Errorf("concatenate: %w", err)
	}

	report(StageFiltering)
	filtered, err := o.effects.Apply(ctx, buffer, req.Filter)
	if err != nil {
		return Result{}, fmt.Errorf("filter: %w", err)
	}

	return Result{
		Buffer:          filtered,
		Format:          o.bank.Format(),
		MatchedWords:    matched,
		SkippedWords:    skipped,
		DurationSeconds: o.bank.Format().Duration(len(filtered)),
	}, nil
}

func (o *Orchestrator) record(req Request, result Result, err error) {
	a := wordbank.Announcement{
		RequestID:       req.RequestID,
		ScopeID:         req.ScopeID,
		Voice:           req.Voice,
		Matched:         len(result.MatchedWords),
		Skipped:         len(result.SkippedWords),
		DurationSeconds: result.DurationSeconds,
		Success:         err == nil,
		CreatedAt:       o.clock().UTC(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	recordCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if herr := o.bank.AppendAnnouncement(recordCtx, a); herr != nil {
		o.log.Warn("failed to record announcement", slog.String("error", herr.Error()))
	}
}

// Package service exposes the announcement pipeline over the message
// bus: synthesis requests in, per-request progress and results out,
// plus request/reply admin operations on the word bank.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxlabs/vox-core/internal/bus"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/filter"
	"github.com/voxlabs/vox-core/internal/generator"
	"github.com/voxlabs/vox-core/internal/orchestrator"
	"github.com/voxlabs/vox-core/internal/pcm"
	"github.com/voxlabs/vox-core/internal/protocol"
	"github.com/voxlabs/vox-core/internal/wordbank"
)

const queueGroup = "vox-announce"

type Service struct {
	cfg    config.Config
	bus    *bus.Client
	orch   *orchestrator.Orchestrator
	bank   *wordbank.Store
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
}

func New(ctx context.Context, cfg config.Config, busClient *bus.Client,
	orch *orchestrator.Orchestrator, bank *wordbank.Store, log *slog.Logger) *Service {
	sctx, cancel := context.WithCancel(ctx)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		orch:   orch,
		bank:   bank,
		log:    log.With(slog.String("component", "service")),
		ctx:    sctx,
		cancel: cancel,
	}
}

// Start subscribes the synthesis and admin handlers. Synthesis requests
// share a queue group so multiple runtimes split the load.
func (s *Service) Start() error {
	conn := s.bus.Conn()

	sub, err := conn.QueueSubscribe(protocol.SubjectSynthesizeRequest, queueGroup, s.handleSynthesize)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectSynthesizeRequest, err)
	}
	s.subs = append(s.subs, sub)

	admin := map[string]nats.MsgHandler{
		protocol.SubjectAdminPurge:  s.handlePurge,
		protocol.SubjectAdminStats:  s.handleStats,
		protocol.SubjectAdminExport: s.handleExport,
		protocol.SubjectAdminImport: s.handleImport,
	}
	for subject, handler := range admin {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.log.Info("announce service started",
		slog.String("subject", protocol.SubjectSynthesizeRequest),
		slog.String("queue", queueGroup))
	return nil
}

func (s *Service) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.bus.Healthy()
}

func (s *Service) handleSynthesize(msg *nats.Msg) {
	var req protocol.SynthesizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("malformed synthesize request", slog.String("error", err.Error()))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	// Ack immediately so the caller learns the request id and can
	// subscribe to the progress and result subjects.
	if msg.Reply != "" {
		ack, _ := json.Marshal(map[string]string{"request_id": req.RequestID})
		if err := msg.Respond(ack); err != nil {
			s.log.Warn("failed to ack request", slog.String("error", err.Error()))
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.synthesize(req)
	}()
}

func (s *Service) synthesize(req protocol.SynthesizeRequest) {
	log := s.log.With(
		slog.String("request_id", req.RequestID),
		slog.String("scope", req.ScopeID),
		slog.String("voice", req.Voice))
	started := time.Now()

	spec, err := s.filterSpec(req)
	if err != nil {
		s.publishResult(req.RequestID, protocol.SynthesizeResult{
			RequestID: req.RequestID,
			Error:     err.Error(),
		})
		return
	}

	result, err := s.orch.Synthesize(s.ctx, orchestrator.Request{
		RequestID: req.RequestID,
		ScopeID:   req.ScopeID,
		Voice:     req.Voice,
		Text:      req.Text,
		Filter:    spec,
		WordGapMS: req.WordGapMS,
	}, func(stage orchestrator.Stage, word string, counts generator.Counts) {
		s.publishProgress(req.RequestID, stage, word, counts)
	})
	if err != nil {
		log.Warn("synthesis failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(started)))
		s.publishResult(req.RequestID, protocol.SynthesizeResult{
			RequestID: req.RequestID,
			Error:     err.Error(),
		})
		return
	}

	out := protocol.SynthesizeResult{
		RequestID:       req.RequestID,
		Success:         true,
		PCM:             result.Buffer,
		SampleRate:      result.Format.SampleRate,
		Channels:        result.Format.Channels,
		DurationSeconds: result.DurationSeconds,
		MatchedWords:    result.MatchedWords,
	}
	for _, sk := range result.SkippedWords {
		out.SkippedWords = append(out.SkippedWords, protocol.SkippedWord{Word: sk.Word, Reason: sk.Reason})
	}

	if s.cfg.Pipeline.OutputDir != "" {
		path, werr := s.writeWAV(req.RequestID, result)
		if werr != nil {
			log.Warn("failed to render wav", slog.String("error", werr.Error()))
		} else {
			out.OutputPath = path
		}
	}

	log.Info("announcement ready",
		slog.Int("matched", len(result.MatchedWords)),
		slog.Int("skipped", len(result.SkippedWords)),
		slog.Float64("duration_seconds", result.DurationSeconds),
		slog.Duration("elapsed", time.Since(started)))
	s.publishResult(req.RequestID, out)
}

func (s *Service) filterSpec(req protocol.SynthesizeRequest) (filter.Spec, error) {
	name := req.Preset
	if name == "" {
		name = s.cfg.Filter.DefaultPreset
	}
	preset, err := filter.ParsePreset(name)
	if err != nil {
		return filter.Spec{}, err
	}
	spec := filter.Spec{Preset: preset}
	if req.Custom != nil {
		spec.Custom = &filter.Settings{
			HighpassHz:       req.Custom.HighpassHz,
			LowpassHz:        req.Custom.LowpassHz,
			CompressionRatio: req.Custom.CompressionRatio,
			Distortion:       req.Custom.Distortion,
		}
	}
	return spec, nil
}

func (s *Service) writeWAV(requestID string, result orchestrator.Result) (string, error) {
	if err := os.MkdirAll(s.cfg.Pipeline.OutputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.Pipeline.OutputDir, requestID+".wav")
	if err := pcm.WriteWAVFile(path, result.Format, result.Buffer); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Service) publishProgress(requestID string, stage orchestrator.Stage, word string, counts generator.Counts) {
	payload, err := json.Marshal(protocol.Progress{
		RequestID: requestID,
		Stage:     string(stage),
		Word:      word,
		Cached:    counts.Cached,
		Generated: counts.Generated,
		Failed:    counts.Failed,
		Skipped:   counts.Skipped,
		Total:     counts.Total,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(protocol.ProgressSubject(requestID), payload); err != nil {
		s.log.Warn("failed to publish progress", slog.String("error", err.Error()))
	}
}

func (s *Service) publishResult(requestID string, result protocol.SynthesizeResult) {
	result.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(result)
	if err != nil {
		s.log.Error("failed to marshal result", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(protocol.ResultSubject(requestID), payload); err != nil {
		s.log.Warn("failed to publish result", slog.String("error", err.Error()))
	}
}

func (s *Service) handlePurge(msg *nats.Msg) {
	var req protocol.PurgeRequest
	var resp protocol.PurgeResponse
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		resp.Error = "malformed request: " + err.Error()
		s.respond(msg, resp)
		return
	}
	removed, err := s.bank.Purge(s.ctx, req.ScopeID, req.Voice, req.Word)
	if err != nil {
		resp.Error = err.Error()
	}
	resp.Removed = removed
	s.respond(msg, resp)
}

func (s *Service) handleStats(msg *nats.Msg) {
	var req protocol.StatsRequest
	var resp protocol.StatsResponse
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		resp.Error = "malformed request: " + err.Error()
		s.respond(msg, resp)
		return
	}
	stats, err := s.bank.Stats(s.ctx, req.ScopeID)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.TotalWords = stats.TotalWords
		resp.TotalBytes = stats.TotalBytes
		resp.VoicesUsed = stats.VoicesUsed
	}
	s.respond(msg, resp)
}

func (s *Service) handleExport(msg *nats.Msg) {
	var req protocol.ExportRequest
	var resp protocol.ExportResponse
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		resp.Error = "malformed request: " + err.Error()
		s.respond(msg, resp)
		return
	}
	archive, err := s.bank.Export(s.ctx, req.ScopeID, req.Voice)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Archive = archive
	}
	s.respond(msg, resp)
}

func (s *Service) handleImport(msg *nats.Msg) {
	var req protocol.ImportRequest
	var resp protocol.ImportResponse
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		resp.Error = "malformed request: " + err.Error()
		s.respond(msg, resp)
		return
	}
	report, err := s.bank.Import(s.ctx, req.ScopeID, req.Archive)
	if err != nil {
		resp.Error = err.Error()
	}
	resp.Imported = report.Imported
	resp.Skipped = report.Skipped
	s.respond(msg, resp)
}

func (s *Service) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to marshal response", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(payload); err != nil {
		s.log.Warn("failed to respond", slog.String("error", err.Error()))
	}
}

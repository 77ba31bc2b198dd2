// Package runtime assembles and supervises the announcement engine:
// telemetry, the message bus (embedded or external), the word bank,
// the synthesis pipeline, and the HTTP health surface.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlabs/vox-core/internal/bus"
	"github.com/voxlabs/vox-core/internal/concat"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/filter"
	"github.com/voxlabs/vox-core/internal/generator"
	"github.com/voxlabs/vox-core/internal/natsserver"
	"github.com/voxlabs/vox-core/internal/orchestrator"
	"github.com/voxlabs/vox-core/internal/pcm"
	"github.com/voxlabs/vox-core/internal/service"
	"github.com/voxlabs/vox-core/internal/synth"
	"github.com/voxlabs/vox-core/internal/wordbank"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	bank        *wordbank.Store
	busClient   *bus.Client
	svc         *service.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves until ctx is cancelled, then
// shuts down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	r.busClient, err = bus.Connect(busCfg, r.logger)
	if err != nil {
		embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	// Failures past this point must release everything already started.
	fail := func(err error) error {
		if r.bank != nil {
			_ = r.bank.Close()
		}
		r.busClient.Close()
		embedded.Shutdown()
		if r.tracerClose != nil {
			closeCtx, cancelClose := context.WithTimeout(context.Background(), 2*time.Second)
			_ = r.tracerClose(closeCtx)
			cancelClose()
		}
		return err
	}

	format := pcm.FromConfig(r.cfg.Audio)

	r.bank, err = wordbank.Open(ctx, r.cfg.WordBank, r.cfg.History, format, r.logger)
	if err != nil {
		return fail(fmt.Errorf("failed to open word bank: %w", err))
	}

	provider, err := synth.FromConfig(r.cfg.Synth, format)
	if err != nil {
		return fail(fmt.Errorf("failed to build synthesis provider: %w", err))
	}
	processor, err := filter.FromConfig(r.cfg.Filter, format)
	if err != nil {
		return fail(fmt.Errorf("failed to build filter processor: %w", err))
	}

	gen := generator.New(r.bank, provider, r.cfg.Synth, r.logger)
	assembler := concat.New(format, r.cfg.Pipeline.AdditivePauses)
	effects := filter.NewEngine(format, processor, r.logger)
	orch := orchestrator.New(r.cfg.Pipeline, r.bank, gen, assembler, effects, r.logger)

	r.svc = service.New(ctx, r.cfg, r.busClient, orch, r.bank, r.logger)
	if err := r.svc.Start(); err != nil {
		return fail(fmt.Errorf("failed to start announce service: %w", err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/stats", r.handleStats)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synth_mode", r.cfg.Synth.Mode),
		slog.String("filter_mode", r.cfg.Filter.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.svc.Close()
	r.busClient.Close()
	embedded.Shutdown()
	if err := r.bank.Close(); err != nil {
		r.logger.Error("word bank close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.svc != nil && r.svc.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStats(w http.ResponseWriter, req *http.Request) {
	scope := req.URL.Query().Get("scope")
	if scope == "" {
		http.Error(w, "missing scope parameter", http.StatusBadRequest)
		return
	}
	stats, err := r.bank.Stats(req.Context(), scope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"scope_id":    scope,
		"total_words": stats.TotalWords,
		"total_bytes": stats.TotalBytes,
		"voices_used": stats.VoicesUsed,
	})
}

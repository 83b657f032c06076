package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/windowmeet/core/internal/authz"
	"github.com/windowmeet/core/internal/bus"
	"github.com/windowmeet/core/internal/chatadapter"
	"github.com/windowmeet/core/internal/clock"
	"github.com/windowmeet/core/internal/config"
	"github.com/windowmeet/core/internal/httpapi"
	"github.com/windowmeet/core/internal/natsserver"
	"github.com/windowmeet/core/internal/orchestrator"
	"github.com/windowmeet/core/internal/reminder"
	"github.com/windowmeet/core/internal/sharetoken"
	"github.com/windowmeet/core/internal/store"
	"github.com/windowmeet/core/internal/store/memory"
	"github.com/windowmeet/core/internal/store/sqlite"
)

// Runtime owns the process's collaborators end to end: Store, Orchestrator,
// Authorizer, Reminder Dispatcher, Chat Adapter, the internal bus, and the
// HTTP boundary, wired once at Start and torn down in reverse order on
// shutdown — the same explicit-Deps-struct shape the Design Notes call for
// in place of the teacher corpus's module-level singletons.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	busClient   *bus.Client
	natsEmbed   *natsserver.EmbeddedServer
	store       store.Store
	storeCloser func() error
	shareStore  *sharetoken.Store
	dispatcher  *reminder.Dispatcher
	chatAdapter *chatadapter.Adapter
	metricsServer *http.Server
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if embed, err := natsserver.Start(r.cfg.Bus, r.logger); err != nil {
		return fmt.Errorf("failed to start embedded nats: %w", err)
	} else {
		r.natsEmbed = embed
	}

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to message bus: %w", err)
	}
	r.busClient = busClient

	st, closer, err := openStore(ctx, r.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	r.store = st
	r.storeCloser = closer

	az := authz.New(r.store)
	orch := orchestrator.New(r.store, clock.Real{}, az,
		orchestrator.WithPublisher(r.busClient),
	)

	var shareStore *sharetoken.Store
	if r.cfg.ShareTokens.RedisAddr != "" {
		shareStore, err = sharetoken.Open(r.cfg.ShareTokens)
		if err != nil {
			return fmt.Errorf("failed to open share token store: %w", err)
		}
	}
	r.shareStore = shareStore

	var chatAdapter *chatadapter.Adapter
	if r.cfg.Chat.Enabled {
		chatAdapter, err = chatadapter.New(r.cfg.Chat, r.store, orch, az, shareStore, r.logger)
		if err != nil {
			return fmt.Errorf("failed to build chat adapter: %w", err)
		}
		orch.Notifier = chatAdapter
	}
	r.chatAdapter = chatAdapter

	dispatcherOutbound := reminder.Outbound(noopOutbound{})
	if chatAdapter != nil {
		dispatcherOutbound = chatAdapter
	}
	dispatcher := reminder.New(
		r.store, clock.Real{}, dispatcherOutbound, r.busClient, r.logger,
		time.Duration(r.cfg.Reminder.PollIntervalSecs)*time.Second,
		time.Duration(r.cfg.Reminder.ImminentHorizonMinutes)*time.Minute,
	)
	r.dispatcher = dispatcher
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		dispatcher.Run(ctx)
	}()

	apiRouter := httpapi.NewRouter(httpapi.Deps{
		Orch:          orch,
		Authz:         az,
		Store:         r.store,
		Share:         shareStore,
		Dispatcher:    dispatcher,
		Chat:          chatAdapter,
		WebhookSecret: r.cfg.Chat.WebhookSecret,
		TriggerToken:  r.cfg.Reminder.TriggerToken,
		Log:           r.logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/", apiRouter)
	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		r.logger.Info("metrics endpoint ready", slog.String("addr", r.cfg.Telemetry.PrometheusBind))
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
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("metrics server shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.storeCloser != nil {
		if err := r.storeCloser(); err != nil {
			r.logger.Warn("store close error", slog.String("error", err.Error()))
		}
	}
	if r.shareStore != nil {
		if err := r.shareStore.Close(); err != nil {
			r.logger.Warn("share token store close error", slog.String("error", err.Error()))
		}
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.natsEmbed != nil {
		r.natsEmbed.Shutdown()
	}
	r.wg.Wait()

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
	if r.ready.Load() && r.busClient != nil && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// openStore constructs the configured Store driver and a matching close
// function; memory has nothing to close.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return memory.New(), func() error { return nil }, nil
	}
}

// noopOutbound stands in for the Reminder Dispatcher's outbound
// collaborator when the Chat Adapter is disabled, so the dispatcher still
// runs its bookkeeping passes (useful in headless/testing deployments).
type noopOutbound struct{}

func (noopOutbound) BroadcastToEventChats(context.Context, string, string) error { return nil }

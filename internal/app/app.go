// Package app wires the relay components into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "meeting-translation-relay/internal/api/grpc"
	"meeting-translation-relay/internal/config"
	"meeting-translation-relay/internal/entitlement"
	"meeting-translation-relay/internal/events"
	relayhttp "meeting-translation-relay/internal/http"
	"meeting-translation-relay/internal/observability"
	"meeting-translation-relay/internal/observability/logging"
	"meeting-translation-relay/internal/observability/metrics"
	"meeting-translation-relay/internal/service/chunklog"
	"meeting-translation-relay/internal/service/queue"
	"meeting-translation-relay/internal/service/relay"
	"meeting-translation-relay/internal/service/translog"
	"meeting-translation-relay/internal/service/upstream"
	"meeting-translation-relay/internal/service/upstream/google"
	"meeting-translation-relay/internal/service/upstream/mock"
	"meeting-translation-relay/internal/service/upstream/openai"
	"meeting-translation-relay/internal/store"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	store     store.Store
	provider  upstream.Provider
	publisher *events.Publisher
	translog  *translog.Logger
	chunks    *chunklog.Recorder
	manager   *relay.Manager

	httpServer *observability.Server
	grpcServer *grpc.Server
	health     *health.Server
	grpcLis    net.Listener

	// base is cancelled first on shutdown so live relays stop before the
	// listeners drain.
	base   context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
}

// New constructs the application from cfg. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg: cfg,
		Logger: log.With().
			Str("service", "meeting-translation-relay").
			Str("component", "application").
			Logger(),
	}
	a.base, a.cancel = context.WithCancel(context.Background())

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	provider, model, err := newProvider(ctx, cfg.Upstream)
	if err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("upstream provider: %w", err)
	}
	a.provider = provider

	kafkaCfg := cfg.Kafka
	a.publisher = events.New(&kafkaCfg)
	a.translog = translog.New(cfg.TranslationLog, st, a.publisher)

	var checker entitlement.Checker = entitlement.AllowAll{}
	if cfg.Billing.StripeKey != "" {
		checker = entitlement.NewStripe(cfg.Billing.StripeKey)
	}

	relayCfg := relay.DefaultConfig()
	relayCfg.Queue = queue.Config{MaxDepth: cfg.Queue.MaxDepth, Pause: cfg.Queue.DrainPause}
	relayCfg.ModelLabel = model
	relayDeps := relay.Deps{
		Store:       st,
		Provider:    provider,
		Entitlement: checker,
		Translog:    a.translog,
		Status:      a.publisher,
		Metrics:     metrics.DefaultMetrics,
	}
	if cfg.ChunkLog.Enabled {
		a.chunks = chunklog.New(cfg.ChunkLog, st)
		relayDeps.Chunks = a.chunks
	}
	a.manager = relay.NewManager(relayCfg, relayDeps)

	a.httpServer = observability.NewServer(":"+cfg.Service.HTTPPort, relayhttp.NewRouter(relayhttp.Deps{
		Manager:   a.manager,
		Sessions:  st,
		JWTSecret: cfg.Auth.JWTSecret,
		Ready:     a.ready.Load,
		Base:      a.base,
	}))

	a.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)
	a.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.health)
	grpcapi.Register(a.grpcServer, a.manager, a.base)
	reflection.Register(a.grpcServer)

	a.Logger.Info().
		Str("upstream", provider.Name()).
		Str("store", cfg.Store.Driver).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("auth", cfg.Auth.JWTSecret != "").
		Bool("billing", cfg.Billing.StripeKey != "").
		Msg("Translation relay application created")
	return a, nil
}

// newProvider builds the upstream named in cfg and returns the model label
// recorded on utterances.
func newProvider(ctx context.Context, cfg config.UpstreamConfig) (upstream.Provider, string, error) {
	switch cfg.Provider {
	case "openai":
		p := openai.New(openai.Config{
			URL:              cfg.OpenAI.URL,
			Model:            cfg.OpenAI.Model,
			APIKey:           cfg.OpenAI.APIKey,
			HandshakeTimeout: cfg.OpenAI.HandshakeTimeout,
			Handshake:        cfg.Handshake,
		})
		return p, p.Model(), nil
	case "google":
		p, err := google.New(ctx, google.Config{
			LanguageCode:   cfg.Google.LanguageCode,
			SampleRateHz:   cfg.Google.SampleRateHz,
			InterimResults: cfg.Google.InterimResults,
			AudioEncoding:  cfg.Google.AudioEncoding,
		})
		if err != nil {
			return nil, "", err
		}
		return p, "google-speech", nil
	case "mock":
		return mock.New(mock.Options{AutoReady: true, Simulate: cfg.Mock.Simulate}), "mock", nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Start opens the listeners and marks the service ready.
func (a *Application) Start() error {
	lis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	a.grpcLis = lis

	a.StartupTime = time.Now().UTC()
	a.httpServer.Start()
	go func() {
		a.Logger.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.Logger.Error().Err(err).Msg("gRPC server error")
		}
	}()

	a.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	a.ready.Store(true)

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Translation relay started")
	return nil
}

// Shutdown stops accepting work, ends live relays and flushes the
// translation log before closing the backends.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Int("liveSessions", len(a.manager.Sessions())).Msg("Translation relay shutting down")

	a.ready.Store(false)
	a.health.Shutdown()
	a.cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.grpcServer.Stop()
	}

	if err := a.translog.Close(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Translation log did not drain")
	}
	if a.chunks != nil {
		if err := a.chunks.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Audio chunk log did not drain")
		}
	}
	if err := a.publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Kafka publisher close failed")
	}
	if c, ok := a.provider.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Upstream provider close failed")
		}
	}
	if err := a.store.Close(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Store close failed")
	}
}

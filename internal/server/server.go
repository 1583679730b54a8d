package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"threatlens/internal/analysis"
	"threatlens/internal/auth"
	"threatlens/internal/config"
	"threatlens/internal/events"
	"threatlens/internal/evidence"
	"threatlens/internal/handlers"
	"threatlens/internal/metrics"
)

// Version is stamped at build time.
var Version = "dev"

// Server represents the evidence service process
type Server struct {
	config *config.Config
	logger *zap.Logger

	backends  *Backends
	metrics   *metrics.Collector
	hub       *events.Hub
	publisher events.Publisher
	service   *evidence.Service

	// Handlers
	evidenceHandler *handlers.EvidenceHandler
	healthHandler   *handlers.HealthHandler

	// HTTP and gRPC servers
	router     *gin.Engine
	httpServer *http.Server
	grpcServer *grpc.Server

	healthServer *health.Server
}

// New creates a new server instance
func New(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		config: cfg,
		logger: logger.Named("server"),
	}
}

// Initialize sets up the server components
func (s *Server) Initialize(ctx context.Context) error {
	s.logger.Info("Initializing threatlens server")

	backends, err := OpenBackends(ctx, s.config, s.logger)
	if err != nil {
		return errors.Wrap(err, "failed to open storage backends")
	}
	s.backends = backends

	if err := s.initService(ctx); err != nil {
		return errors.Wrap(err, "failed to initialize evidence service")
	}

	s.healthServer = health.NewServer()
	s.initHTTPServer()
	s.initGRPCServer()

	s.logger.Info("Server initialized successfully")
	return nil
}

func (s *Server) initService(ctx context.Context) error {
	cfg := s.config

	s.metrics = metrics.New()
	s.hub = events.NewHub(s.logger)
	s.metrics.TrackStreamClients(s.hub.Connected)

	publishers := events.Multi{s.hub}
	if cfg.Kafka.Enabled {
		publishers = append(publishers, events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, s.logger))
	}
	s.publisher = publishers

	analyzer, err := analysis.New(cfg.Analysis.Analyzer, cfg.Analysis.Seed)
	if err != nil {
		return err
	}

	if height, err := s.backends.Ledger.Height(ctx); err != nil {
		s.logger.Warn("Could not read ledger height", zap.Error(err))
	} else {
		s.metrics.SetLedgerHeight(height)
	}

	if cfg.Security.LedgerPublic {
		s.logger.Warn("Ledger endpoints are open to unauthenticated callers",
			zap.String("setting", "security.ledger_public"))
	}

	verifier := auth.NewJWTVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenTTL)
	s.service = evidence.New(evidence.Dependencies{
		Guard:     auth.NewGuard(verifier),
		Alerts:    s.backends.Alerts,
		Reports:   s.backends.Reports,
		Ledger:    s.backends.Ledger,
		Analyzer:  analyzer,
		Publisher: s.publisher,
		Metrics:   s.metrics,
		Logger:    s.logger,
	}, evidence.Config{
		AdminRole:    cfg.Security.AdminRole,
		LedgerRole:   cfg.Security.LedgerRole,
		LedgerPublic: cfg.Security.LedgerPublic,
		RecordAlerts: cfg.Ledger.RecordAlerts,
		QueryTimeout: cfg.Database.QueryTimeout,
	})

	s.evidenceHandler = handlers.NewEvidenceHandler(s.service, s.hub, s.logger)
	s.healthHandler = handlers.NewHealthHandler(Version, s.logger, s.readinessChecks()...)
	return nil
}

func (s *Server) readinessChecks() []handlers.Check {
	checks := []handlers.Check{{
		Name: "ledger",
		Probe: func(ctx context.Context) error {
			_, err := s.backends.Ledger.Height(ctx)
			return err
		},
	}}
	if s.backends.DB != nil {
		checks = append(checks, handlers.Check{Name: "database", Probe: s.backends.DB.Health})
	}
	if s.backends.Redis != nil {
		checks = append(checks, handlers.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return s.backends.Redis.Ping(ctx).Err() },
		})
	}
	return checks
}

// initHTTPServer initializes the HTTP server with Gin
func (s *Server) initHTTPServer() {
	if s.config.IsProduction() || !s.config.Debug {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(handlers.RequestID())
	s.router.Use(handlers.Logging(s.logger))
	s.router.Use(handlers.Metrics(s.metrics))

	s.setupRoutes()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.HTTPPort),
		Handler:      corsHandler.Handler(s.router),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("HTTP server initialized", zap.Int("port", s.config.Server.HTTPPort))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler.Health)
	s.router.GET("/health/ready", s.healthHandler.Ready)
	s.router.GET("/health/live", s.healthHandler.Live)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	var reportLimit gin.HandlerFunc
	if s.config.RateLimit.Enabled {
		limiter := handlers.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst)
		reportLimit = limiter.Middleware(s.logger)
	}

	s.evidenceHandler.RegisterRoutes(s.router, reportLimit)
	s.evidenceHandler.RegisterRoutes(s.router.Group("/api/v1"), reportLimit)
}

// initGRPCServer initializes the gRPC server
func (s *Server) initGRPCServer() {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(1024 * 1024 * 4), // 4MB
		grpc.MaxSendMsgSize(1024 * 1024 * 4), // 4MB
	}
	s.grpcServer = grpc.NewServer(opts...)

	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)

	if s.config.Debug {
		reflection.Register(s.grpcServer)
	}

	s.logger.Info("gRPC server initialized", zap.Int("port", s.config.Server.GRPCPort))
}

// Handler exposes the HTTP handler chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP and gRPC until ctx is cancelled or a listener fails,
// then shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting threatlens server")

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.GRPCPort))
	if err != nil {
		return errors.Wrap(err, "failed to listen for gRPC")
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("gRPC server listening", zap.String("address", lis.Addr().String()))
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- errors.Wrap(err, "gRPC server failed")
		}
	}()
	go func() {
		s.logger.Info("HTTP server listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Wrap(err, "HTTP server failed")
		}
	}()

	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.logger.Info("Threatlens server started successfully", zap.String("version", Version))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		s.logger.Error("Server stopped unexpectedly", zap.Error(runErr))
	}

	if err := s.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down threatlens server")

	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}
	s.grpcServer.GracefulStop()

	if err := s.publisher.Close(); err != nil {
		s.logger.Error("Failed to close event publishers", zap.Error(err))
	}
	if err := s.backends.Close(); err != nil {
		s.logger.Error("Failed to close storage backends", zap.Error(err))
		return err
	}

	s.logger.Info("Threatlens server shutdown completed")
	return nil
}

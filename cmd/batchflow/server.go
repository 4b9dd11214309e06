package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow"
	"github.com/BaSui01/batchflow/api/handlers"
	"github.com/BaSui01/batchflow/batch"
	"github.com/BaSui01/batchflow/config"
	"github.com/BaSui01/batchflow/internal/database"
	"github.com/BaSui01/batchflow/internal/events"
	"github.com/BaSui01/batchflow/internal/metrics"
	"github.com/BaSui01/batchflow/internal/server"
	"github.com/BaSui01/batchflow/internal/telemetry"
	"github.com/BaSui01/batchflow/monitor"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 BatchFlow 的主服务器，持有引擎及其全部外围组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	providers *telemetry.Providers

	// 可选组件，未启用时为 nil
	publisher *events.Publisher
	pool      *database.PoolManager
	store     *monitor.GormStore

	manager *batch.Manager
	monitor *monitor.Monitor

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 限流器清理 goroutine 与监控循环的生命周期
	cancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 按依赖顺序初始化组件并启动 HTTP 服务
// 任一步失败时已初始化的组件会被关闭
func (s *Server) Start(ctx context.Context) (err error) {
	ctx, s.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			s.Shutdown(context.Background())
		}
	}()

	// 1. 指标与遥测
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("batchflow", s.registry, s.logger)

	s.providers, err = telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		// 遥测不可用不影响批处理
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		s.providers = &telemetry.Providers{}
	}
	batchMetrics, err := telemetry.NewBatchMetrics(s.providers.Meter())
	if err != nil {
		return fmt.Errorf("failed to create batch metrics: %w", err)
	}

	// 2. 事件接收方
	sinks := batch.MultiSink{s.collector, batchMetrics}
	if s.cfg.Redis.Enabled {
		s.publisher, err = events.NewPublisher(eventsConfig(s.cfg.Redis), s.logger)
		if err != nil {
			return fmt.Errorf("failed to init event publisher: %w", err)
		}
		sinks = append(sinks, s.publisher)
	}

	// 3. 批处理引擎
	s.manager, err = batchflow.FromConfig(s.cfg.Channels,
		batchflow.WithLogger(s.logger),
		batchflow.WithTracer(s.providers.Tracer()),
		batchflow.WithEventSink(sinks),
	)
	if err != nil {
		return fmt.Errorf("failed to init channels: %w", err)
	}

	// 4. 健康监控与报告存储
	if err := s.initMonitor(ctx); err != nil {
		return err
	}

	// 5. HTTP 服务
	if err := s.startHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("channels", s.manager.Channels()),
		zap.Bool("events", s.publisher != nil),
		zap.Bool("persist_reports", s.store != nil),
	)
	return nil
}

func eventsConfig(cfg config.RedisConfig) events.Config {
	out := events.DefaultConfig()
	out.Addr = cfg.Addr
	out.Password = cfg.Password
	out.DB = cfg.DB
	out.TLS = cfg.TLS
	if cfg.PoolSize > 0 {
		out.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		out.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.ChannelPrefix != "" {
		out.ChannelPrefix = cfg.ChannelPrefix
	}
	return out
}

// initMonitor 创建健康监控，开启持久化时连接数据库并建表
func (s *Server) initMonitor(ctx context.Context) error {
	opts := []monitor.Option{
		monitor.WithObserver(s.collector),
		monitor.WithLogger(s.logger),
	}

	if s.cfg.Monitor.PersistReports {
		db, err := database.Open(ctx, s.cfg.Database, s.logger)
		if err != nil {
			return fmt.Errorf("failed to open report database: %w", err)
		}
		s.pool, err = database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger)
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return fmt.Errorf("failed to init connection pool: %w", err)
		}
		s.store, err = monitor.NewGormStore(s.pool, s.logger)
		if err != nil {
			return err
		}
		s.store.SetQueryRecorder(s.collector)

		// 生产环境使用 batchflow migrate 管理表结构，这里只补齐缺失的表
		if err := s.store.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate report table: %w", err)
		}
		opts = append(opts, monitor.WithStore(s.store))
	}

	s.monitor = monitor.New(s.manager, monitor.Config{
		Interval:  s.cfg.Monitor.Interval,
		Retention: s.cfg.Monitor.Retention,
	}, opts...)

	if !s.cfg.Monitor.Enabled {
		s.logger.Info("health monitor disabled")
		return nil
	}
	return s.monitor.Start(ctx)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 构建 API 路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.manager, s.logger)
	if s.publisher != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.publisher.Ping))
	}
	if s.pool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}

	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewChannelHandler(s.manager, s.logger).Register(mux)

	// 接口值必须保持 nil，避免 typed nil 注册路由
	var history handlers.ReportHistory
	if s.store != nil {
		history = s.store
	}
	var latest handlers.EventSource
	if s.publisher != nil {
		latest = s.publisher
	}
	handlers.NewReportHandler(history, latest, s.logger).Register(mux)

	// 未配置独立端口时 /metrics 挂在 API 端口上
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}
	return mux
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	handler := Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}, s.logger)

	return s.httpManager.Start()
}

// startMetricsServer 在独立端口暴露 /metrics，端口为 0 时跳过
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metricsHandler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 结束或任一 HTTP 服务异常退出
func (s *Server) Wait(ctx context.Context) error {
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("http server: %w", err)
	case err := <-metricsErrs:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 优雅关闭：先停止接收请求，再停止监控与通道，最后释放外部连接
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")

	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		if err := m.Shutdown(ctx); err != nil {
			s.logger.Error("server shutdown error", zap.Error(err))
		}
	}

	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	// 排空全部通道，事件在此期间仍会发布
	if s.manager != nil {
		s.manager.Dispose()
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("event publisher close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database close error", zap.Error(err))
		}
	}
	if s.providers != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.providers.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

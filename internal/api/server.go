package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"PluginHub/internal/observability/metrics"
	"PluginHub/internal/reconcile"
	"PluginHub/internal/registry"
	"PluginHub/internal/schedule"
	"PluginHub/pkg/logger"
)

// RegistryReader 返回当前已发布的注册表。
type RegistryReader interface {
	Load() *registry.Registry
}

// CycleRunner 是 API 需要调用的 reconcile.Runner 子集。
type CycleRunner interface {
	Trigger(reason string) bool
	Ready() bool
	LastResult() *reconcile.Result
}

// ScheduleReader 返回最近一次周期生成的任务调度表。
type ScheduleReader interface {
	Schedule() schedule.Schedule
}

// ReloadPublisher 将重载通知广播给其他实例。
type ReloadPublisher interface {
	Publish(ctx context.Context, reason string) error
}

// Option 用于定制 Server。
type Option func(*Server)

// WithSchedule 对外暴露任务调度表。
func WithSchedule(reader ScheduleReader) Option {
	return func(s *Server) { s.schedule = reader }
}

// WithReloadPublisher 使 POST /api/v1/reload 通知所有实例。
func WithReloadPublisher(pub ReloadPublisher) Option {
	return func(s *Server) { s.publisher = pub }
}

// WithHealthRegisterer 将健康检查结果导出为 Prometheus 指标。
func WithHealthRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) { s.healthReg = reg }
}

// WithAuth 为所有 /api/v1 路由套上 mw，健康检查与 /metrics 不受影响。
func WithAuth(mw func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.auth = mw }
}

// WithReadinessCheck 为 /healthz 增加一项依赖检查。
func WithReadinessCheck(name string, check func() error) Option {
	return func(s *Server) { s.readiness[name] = check }
}

// Server 提供 HTTP API。
type Server struct {
	addr      string
	store     RegistryReader
	runner    CycleRunner
	schedule  ScheduleReader
	publisher ReloadPublisher
	healthReg prometheus.Registerer
	readiness map[string]func() error
	auth      func(http.Handler) http.Handler
	log       *slog.Logger
}

// NewServer 创建监听 addr 的服务器。
func NewServer(addr string, store RegistryReader, runner CycleRunner, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		store:     store,
		runner:    runner,
		readiness: make(map[string]func() error),
		log:       logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回带请求指标的路由处理器。
func (s *Server) Handler() http.Handler {
	health := s.healthHandler()

	routes := http.NewServeMux()
	routes.HandleFunc("/api/v1/plugins", s.handlePlugins)
	routes.HandleFunc("/api/v1/plugin-configs", s.handlePluginConfigs)
	routes.HandleFunc("/api/v1/schedule", s.handleSchedule)
	routes.HandleFunc("/api/v1/status", s.handleStatus)
	routes.HandleFunc("/api/v1/reload", s.handleReload)
	var apiHandler http.Handler = routes
	if s.auth != nil {
		apiHandler = s.auth(routes)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.ReadyEndpoint)
	mux.HandleFunc("/healthz/live", health.LiveEndpoint)
	mux.HandleFunc("/healthz/ready", health.ReadyEndpoint)
	mux.Handle("/api/v1/", apiHandler)
	mux.Handle("/metrics", metrics.Handler())
	return withMetrics(mux)
}

func (s *Server) healthHandler() healthcheck.Handler {
	var health healthcheck.Handler
	if s.healthReg != nil {
		health = healthcheck.NewMetricsHandler(s.healthReg, "pluginhub")
	} else {
		health = healthcheck.NewHandler()
	}
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	health.AddReadinessCheck("registry-published", func() error {
		if s.runner == nil || !s.runner.Ready() {
			return errors.New("no registry published yet")
		}
		return nil
	})
	for name, check := range s.readiness {
		health.AddReadinessCheck(name, check)
	}
	return health
}

// Start 持续提供服务，直到 ctx 被取消。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("api listening", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 在根上下文取消后拒绝新请求。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(routeLabel(r.URL.Path), r.Method, rec.status, time.Since(start))
	})
}

var knownRoutes = map[string]struct{}{
	"/healthz":               {},
	"/healthz/live":          {},
	"/healthz/ready":         {},
	"/api/v1/plugins":        {},
	"/api/v1/plugin-configs": {},
	"/api/v1/schedule":       {},
	"/api/v1/status":         {},
	"/api/v1/reload":         {},
	"/metrics":               {},
}

// routeLabel 限制指标标签的取值范围。
func routeLabel(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	return "other"
}

package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/batch"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthReporter 提供通道健康报告，由 batch.Manager 实现
type HealthReporter interface {
	PerformAllHealthChecks() []batch.HealthReport
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger   *zap.Logger
	channels HealthReporter
	checks   []HealthCheck
	mu       sync.RWMutex
}

// HealthCheck 依赖健康检查接口（数据库、Redis 等）
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// ServiceHealthResponse 健康状态响应
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Channels  []batch.HealthReport   `json:"channels,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(channels HealthReporter, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:   logger,
		channels: channels,
		checks:   make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册依赖健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求，汇总所有通道的健康度
// 任一通道 unhealthy 时返回 503，存在 degraded 时状态为 degraded
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	reports := h.channels.PerformAllHealthChecks()
	status := ServiceHealthResponse{
		Status:    overallStatus(reports),
		Timestamp: time.Now(),
		Channels:  reports,
	}

	code := http.StatusOK
	if status.Status == string(batch.HealthStatusUnhealthy) {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针）
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 请求，检查已注册的外部依赖
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult),
	}

	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}

		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}

		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

func overallStatus(reports []batch.HealthReport) string {
	overall := batch.HealthStatusHealthy
	for _, r := range reports {
		switch r.Status {
		case batch.HealthStatusUnhealthy:
			return string(batch.HealthStatusUnhealthy)
		case batch.HealthStatusDegraded:
			overall = batch.HealthStatusDegraded
		}
	}
	return string(overall)
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 基于 ping 函数的依赖检查
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建依赖检查，如 Redis 或健康报告数据库
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{
		name: name,
		ping: ping,
	}
}

func (c *PingCheck) Name() string {
	return c.name
}

func (c *PingCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}

package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/batch"
)

// =============================================================================
// 📦 通道 Handler
// =============================================================================

// ChannelRegistry 通道注册表的只读与控制视图，由 batch.Manager 实现
type ChannelRegistry interface {
	Channels() []string
	GetStatistics(channel string) (batch.Statistics, error)
	GetAllStatistics() map[string]batch.Statistics
	PerformHealthCheck(channel string) (batch.HealthReport, error)
	Stop(channel string) error
	Resume(channel string) error
}

// ChannelHandler 通道统计与控制处理器
type ChannelHandler struct {
	registry ChannelRegistry
	logger   *zap.Logger
}

// ChannelSummary 通道列表项
type ChannelSummary struct {
	Name       string           `json:"name"`
	Statistics batch.Statistics `json:"statistics"`
}

// NewChannelHandler 创建通道处理器
func NewChannelHandler(registry ChannelRegistry, logger *zap.Logger) *ChannelHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelHandler{
		registry: registry,
		logger:   logger.With(zap.String("handler", "channels")),
	}
}

// Register 在 mux 上注册通道路由
func (h *ChannelHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/channels", h.HandleList)
	mux.HandleFunc("GET /v1/channels/{name}", h.HandleGet)
	mux.HandleFunc("GET /v1/channels/{name}/health", h.HandleHealth)
	mux.HandleFunc("POST /v1/channels/{name}/stop", h.HandleStop)
	mux.HandleFunc("POST /v1/channels/{name}/resume", h.HandleResume)
}

// HandleList GET /v1/channels，按通道名排序返回统计
func (h *ChannelHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	all := h.registry.GetAllStatistics()
	names := h.registry.Channels()

	out := make([]ChannelSummary, 0, len(names))
	for _, name := range names {
		stats, ok := all[name]
		if !ok {
			continue
		}
		out = append(out, ChannelSummary{Name: name, Statistics: stats})
	}
	WriteSuccess(w, out)
}

// HandleGet GET /v1/channels/{name}
func (h *ChannelHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.GetStatistics(r.PathValue("name"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, stats)
}

// HandleHealth GET /v1/channels/{name}/health
func (h *ChannelHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.registry.PerformHealthCheck(r.PathValue("name"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleStop POST /v1/channels/{name}/stop
func (h *ChannelHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.registry.Stop(name); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("通道已通过 API 停止", zap.String("channel", name))
	WriteSuccess(w, map[string]string{"channel": name, "state": "stopped"})
}

// HandleResume POST /v1/channels/{name}/resume
func (h *ChannelHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.registry.Resume(name); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("通道已通过 API 恢复", zap.String("channel", name))
	WriteSuccess(w, map[string]string{"channel": name, "state": "running"})
}

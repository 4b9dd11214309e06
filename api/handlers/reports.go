package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/batch"
	"github.com/BaSui01/batchflow/internal/events"
	"github.com/BaSui01/batchflow/types"
)

// =============================================================================
// 📜 健康历史与最近事件 Handler
// =============================================================================

// ReportHistory 健康报告历史，由 monitor.GormStore 实现
type ReportHistory interface {
	Recent(ctx context.Context, channel string, limit int) ([]batch.HealthReport, error)
}

// EventSource 通道最近一次批处理事件，由 events.Publisher 实现
type EventSource interface {
	Latest(ctx context.Context, channel string) (batch.BatchProcessedEvent, error)
}

// ReportHandler 历史查询处理器，history 与 events 均可为 nil
type ReportHandler struct {
	history ReportHistory
	events  EventSource
	logger  *zap.Logger
}

const maxReportLimit = 500

// NewReportHandler 创建历史查询处理器
func NewReportHandler(history ReportHistory, source EventSource, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{
		history: history,
		events:  source,
		logger:  logger.With(zap.String("handler", "reports")),
	}
}

// Register 注册已启用的路由
func (h *ReportHandler) Register(mux *http.ServeMux) {
	if h.history != nil {
		mux.HandleFunc("GET /v1/channels/{name}/reports", h.HandleReports)
	}
	if h.events != nil {
		mux.HandleFunc("GET /v1/channels/{name}/events/latest", h.HandleLatestEvent)
	}
}

// HandleReports GET /v1/channels/{name}/reports?limit=N，按检查时间倒序
func (h *ReportHandler) HandleReports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxReportLimit {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "limit must be between 1 and 500"), h.logger)
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	reports, err := h.history.Recent(ctx, r.PathValue("name"), limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if reports == nil {
		reports = []batch.HealthReport{}
	}
	WriteSuccess(w, reports)
}

// HandleLatestEvent GET /v1/channels/{name}/events/latest
func (h *ReportHandler) HandleLatestEvent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	event, err := h.events.Latest(r.Context(), name)
	if errors.Is(err, events.ErrNoEvent) {
		WriteJSON(w, http.StatusNotFound, Response{
			Success: false,
			Error: &ErrorInfo{
				Code:    "NOT_FOUND",
				Message: "no event published for channel",
				Channel: name,
			},
			Timestamp: time.Now(),
		})
		return
	}
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, event)
}

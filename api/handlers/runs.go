package handlers

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/api"
	"github.com/dataforge-ai/dataforge/catalog"
	"github.com/dataforge-ai/dataforge/datamodel"
	"github.com/dataforge-ai/dataforge/gen"
	"github.com/dataforge-ai/dataforge/store"
	"github.com/dataforge-ai/dataforge/types"
)

// =============================================================================
// 🏃 生成运行 Handler
// =============================================================================

// SampleStore 持久化已确认的样本。*store.Store 满足该接口。
type SampleStore interface {
	SaveSamples(ctx context.Context, samples []store.SavedSample) error
}

// SaveMetrics 记录样本落库指标
type SaveMetrics interface {
	RecordSamplesSaved(count int)
}

// RunDefaults 填充请求中省略的生成参数。
type RunDefaults struct {
	Model       string
	Kind        string
	SampleCount int
}

// RunsHandler 生成运行处理器
type RunsHandler struct {
	svc         *gen.Service
	samples     SampleStore
	metrics     SaveMetrics
	countTokens bool
	defaults    RunDefaults
	logger      *zap.Logger
}

// NewRunsHandler 创建生成运行处理器。samples 和 metrics 可为 nil。
func NewRunsHandler(svc *gen.Service, samples SampleStore, metrics SaveMetrics, countTokens bool, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{
		svc:         svc,
		samples:     samples,
		metrics:     metrics,
		countTokens: countTokens,
		logger:      logger,
	}
}

// WithDefaults 设置请求省略字段的默认值
func (h *RunsHandler) WithDefaults(d RunDefaults) *RunsHandler {
	h.defaults = d
	return h
}

// HandleStart 启动一次生成运行
// @Summary 启动生成运行
// @Description 对目标主题（可级联到叶子后代）发起样本生成
// @Tags 运行
// @Accept json
// @Produce json
// @Param request body api.StartRunRequest true "运行请求"
// @Success 202 {object} api.StartRunResponse "运行已创建"
// @Failure 400 {object} Response "无效请求"
// @Failure 422 {object} Response "前置条件不满足"
// @Security ApiKeyAuth
// @Router /api/v1/runs [post]
func (h *RunsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.StartRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	topic, err := req.Topic.ToDataModel()
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	path, err := req.ResolvedPath()
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}

	model := req.Model
	if model == "" {
		model = h.defaults.Model
	}
	kind := req.Kind
	if kind == "" {
		kind = h.defaults.Kind
	}
	sampleCount := req.SampleCount
	if sampleCount == 0 {
		sampleCount = h.defaults.SampleCount
	}

	// 不在内置目录中的模型仍然可用，但留下痕迹便于排查
	if provider, name, perr := datamodel.ParseModelID(model); perr == nil && catalog.KnownProvider(provider) {
		if _, _, lerr := catalog.Lookup(provider, name); lerr != nil {
			h.logger.Info("model not in built-in catalog",
				zap.String("model", model),
			)
		}
	}

	runID, err := h.svc.StartRun(r.Context(), gen.StartRunInput{
		Topic:       topic,
		Path:        path,
		Cascade:     req.Cascade,
		SampleCount: sampleCount,
		ModelID:     model,
		Kind:        datamodel.GenerationKind(kind),
		Guidance:    req.Guidance,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		CountTokens: h.countTokens,
	})
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}

	view, err := h.svc.Get(runID)
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}

	h.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("topic", path.String()),
		zap.Bool("cascade", req.Cascade),
		zap.Int("topics", view.Total),
		zap.String("model", model),
	)

	WriteJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: api.StartRunResponse{
			RunID:  runID,
			Topics: view.Total,
		},
	})
}

// HandleGet 查询运行状态
// @Summary 查询运行
// @Description 返回运行的即时快照，包含每个主题的结果
// @Tags 运行
// @Produce json
// @Success 200 {object} Response "运行快照"
// @Failure 404 {object} Response "运行不存在"
// @Security ApiKeyAuth
// @Router /api/v1/runs/{id} [get]
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.PathValue("id"))
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	WriteSuccess(w, view)
}

// HandleSave 持久化运行产出的样本
// @Summary 保存样本
// @Description 将运行生成的样本写入数据库，可按主题路径过滤
// @Tags 运行
// @Accept json
// @Produce json
// @Success 200 {object} api.SaveSamplesResponse "保存结果"
// @Failure 404 {object} Response "运行不存在"
// @Security ApiKeyAuth
// @Router /api/v1/runs/{id}/save [post]
func (h *RunsHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	var req api.SaveSamplesRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	if h.samples == nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrStorage,
			"sample persistence is not configured", h.logger)
		return
	}

	views, err := h.svc.Samples(runID)
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}

	wanted := make(map[string]bool, len(req.TopicPaths))
	for _, p := range req.TopicPaths {
		wanted[p] = true
	}

	rows := make([]store.SavedSample, 0, len(views))
	ids := make([]string, 0, len(views))
	for _, v := range views {
		if len(wanted) > 0 && !wanted[v.TopicPath] {
			continue
		}
		id := uuid.NewString()
		rows = append(rows, store.SavedSample{
			ID:         id,
			RunID:      runID,
			TopicPath:  v.TopicPath,
			Content:    v.Content,
			ModelName:  v.ModelName,
			Provider:   v.Provider,
			Kind:       v.Kind,
			TokenCount: v.TokenCount,
		})
		ids = append(ids, id)
	}

	if err := h.samples.SaveSamples(r.Context(), rows); err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	if h.metrics != nil && len(rows) > 0 {
		h.metrics.RecordSamplesSaved(len(rows))
	}

	h.logger.Info("samples saved",
		zap.String("run_id", runID),
		zap.Int("count", len(rows)),
	)

	WriteSuccess(w, api.SaveSamplesResponse{
		Saved: len(rows),
		IDs:   ids,
	})
}

// HandleStream 通过 WebSocket 推送运行进度
// @Summary 运行进度流
// @Description 升级为 WebSocket 并推送每个主题的生成结果，运行结束后关闭
// @Tags 运行
// @Success 101 {string} string "已升级"
// @Failure 404 {object} Response "运行不存在"
// @Security ApiKeyAuth
// @Router /api/v1/runs/{id}/ws [get]
func (h *RunsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	events, cancel, err := h.svc.Subscribe(runID)
	if err != nil {
		WriteTypedError(w, err, h.logger)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("run_id", runID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "run complete")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket write failed, client gone",
					zap.String("run_id", runID), zap.Error(err))
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client disconnected")
			return
		}
	}
}

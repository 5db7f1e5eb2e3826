package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/api"
	"github.com/dataforge-ai/dataforge/catalog"
	"github.com/dataforge-ai/dataforge/taskrunner"
)

// =============================================================================
// 🗂️ 模型目录 Handler
// =============================================================================

// ModelCatalog 提供 task-runner 的可用模型列表。*catalog.Service 满足该接口。
type ModelCatalog interface {
	AvailableModels(ctx context.Context) ([]taskrunner.RemoteModel, error)
}

// ModelsHandler 模型目录处理器
type ModelsHandler struct {
	catalog ModelCatalog
	logger  *zap.Logger
}

// NewModelsHandler 创建模型目录处理器。catalog 可为 nil，
// 此时仅返回内置目录的推荐模型。
func NewModelsHandler(cat ModelCatalog, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{
		catalog: cat,
		logger:  logger,
	}
}

// HandleList 列出模型
// @Summary 模型目录
// @Description 返回内置推荐模型与 task-runner 报告的可用模型
// @Tags 模型
// @Produce json
// @Success 200 {object} api.ModelsResponse "模型目录"
// @Security ApiKeyAuth
// @Router /api/v1/models [get]
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	resp := api.ModelsResponse{
		Suggested: catalog.SuggestedForDataGen(),
		BuiltIn:   builtInEntries(),
		Timestamp: time.Now(),
	}

	if h.catalog != nil {
		models, err := h.catalog.AvailableModels(r.Context())
		if err != nil {
			// 目录不可达时内置推荐仍然有用，降级而不报错
			h.logger.Warn("available model lookup failed", zap.Error(err))
		} else {
			resp.Available = make([]api.AvailableModel, 0, len(models))
			for _, m := range models {
				resp.Available = append(resp.Available, api.AvailableModel{
					ID:       m.ID,
					Name:     m.Name,
					Provider: m.Provider,
				})
			}
		}
	}

	WriteSuccess(w, resp)
}

// builtInEntries 将内置目录映射为响应条目。
func builtInEntries() []api.BuiltInModel {
	models := catalog.BuiltIn()
	out := make([]api.BuiltInModel, 0, len(models))
	for _, m := range models {
		entry := api.BuiltInModel{
			Family:       string(m.Family),
			Name:         m.Name,
			FriendlyName: m.FriendlyName,
			Providers:    make([]api.BuiltInProvider, 0, len(m.Providers)),
		}
		for _, p := range m.Providers {
			entry.Providers = append(entry.Providers, api.BuiltInProvider{
				Name:                string(p.Name),
				ModelID:             p.ModelID,
				SupportsDataGen:     p.SupportsDataGen,
				SuggestedForDataGen: p.SuggestedForDataGen,
				SupportsStructured:  p.SupportsStructured,
			})
		}
		out = append(out, entry)
	}
	return out
}

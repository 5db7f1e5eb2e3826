package api

import (
	"time"

	"github.com/dataforge-ai/dataforge/datamodel"
	"github.com/dataforge-ai/dataforge/types"
)

// =============================================================================
// 生成运行类型
// =============================================================================

// TopicNode 表示请求中主题树的一个节点。
// @Description 主题树节点结构
type TopicNode struct {
	// 主题标签
	Topic string `json:"topic" example:"Cooking"`
	// 子主题
	Subtopics []TopicNode `json:"subtopics,omitempty"`
}

// StartRunRequest 表示启动一次生成运行的请求。
// @Description 生成运行请求结构
type StartRunRequest struct {
	// 目标主题子树（根节点即生成目标）
	Topic TopicNode `json:"topic"`
	// 目标节点在完整主题树中的路径；为空时默认为 [topic.topic]
	Path []string `json:"path,omitempty"`
	// 是否级联到所有叶子后代
	Cascade bool `json:"cascade,omitempty"`
	// 每个主题的样本数；0 表示使用服务默认值
	SampleCount int `json:"sample_count,omitempty" example:"8"`
	// 模型标识，provider/model-name 格式
	Model string `json:"model" example:"openai/gpt-4o"`
	// 生成类型: training, eval
	Kind string `json:"kind" example:"training"`
	// 可选的自由文本引导
	Guidance string `json:"guidance,omitempty"`
	// 采样温度，范围 [0, 2]；缺省为 1.0
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// 核采样参数，范围 [0, 1]；缺省为 1.0
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
}

// StartRunResponse 表示运行创建结果。
// @Description 生成运行创建响应
type StartRunResponse struct {
	// 运行 ID
	RunID string `json:"run_id" example:"3e1f2ab8-4c59-4c13-9f0e-7a2b9d8f11aa"`
	// 目标主题数
	Topics int `json:"topics" example:"12"`
}

// SaveSamplesRequest 表示持久化样本的请求。
// @Description 样本保存请求结构
type SaveSamplesRequest struct {
	// 仅保存这些主题路径的样本；为空时保存全部
	TopicPaths []string `json:"topic_paths,omitempty"`
}

// SaveSamplesResponse 表示保存结果。
// @Description 样本保存响应
type SaveSamplesResponse struct {
	// 已保存样本数
	Saved int `json:"saved"`
	// 已保存样本的持久化 ID
	IDs []string `json:"ids,omitempty"`
}

// ModelsResponse 表示模型目录响应。
// @Description 模型目录响应
type ModelsResponse struct {
	// 内置目录中推荐用于数据生成的 provider/model 标识
	Suggested []string `json:"suggested,omitempty"`
	// 内置目录的完整条目
	BuiltIn []BuiltInModel `json:"built_in,omitempty"`
	// task-runner 报告的可用模型
	Available []AvailableModel `json:"available,omitempty"`
	// 响应生成时间
	Timestamp time.Time `json:"timestamp"`
}

// BuiltInModel 表示内置目录中的一个模型。
type BuiltInModel struct {
	// 模型家族
	Family string `json:"family" example:"gpt"`
	// 模型名
	Name string `json:"name" example:"gpt_4_1"`
	// 展示名称
	FriendlyName string `json:"friendly_name" example:"GPT 4.1"`
	// 各提供者下的可用形态
	Providers []BuiltInProvider `json:"providers"`
}

// BuiltInProvider 表示内置模型在某个提供者下的能力。
type BuiltInProvider struct {
	// 提供者名
	Name string `json:"name" example:"openai"`
	// 提供者侧模型 ID
	ModelID string `json:"model_id" example:"gpt-4.1"`
	// 是否支持数据生成
	SupportsDataGen bool `json:"supports_data_gen"`
	// 是否推荐用于数据生成
	SuggestedForDataGen bool `json:"suggested_for_data_gen,omitempty"`
	// 是否支持结构化输出
	SupportsStructured bool `json:"supports_structured_output"`
}

// AvailableModel 表示 task-runner 报告的一个可用模型。
type AvailableModel struct {
	// 模型 ID
	ID string `json:"id" example:"gpt-4o"`
	// 展示名称
	Name string `json:"name" example:"GPT 4o"`
	// 提供者
	Provider string `json:"provider" example:"openai"`
}

// =============================================================================
// 转换辅助
// =============================================================================

// ToDataModel converts the request tree to datamodel nodes. Empty labels are
// rejected so serialized topic paths stay unambiguous.
func (n TopicNode) ToDataModel() (*datamodel.TopicNode, error) {
	if n.Topic == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "topic label must not be empty")
	}
	node := &datamodel.TopicNode{Label: n.Topic}
	for _, sub := range n.Subtopics {
		child, err := sub.ToDataModel()
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// ResolvedPath returns the target node's full path, defaulting to the
// subtree root's own label. The last element must match the root label.
func (r StartRunRequest) ResolvedPath() (datamodel.TopicPath, error) {
	if len(r.Path) == 0 {
		return datamodel.TopicPath{r.Topic.Topic}, nil
	}
	if r.Path[len(r.Path)-1] != r.Topic.Topic {
		return nil, types.NewError(types.ErrInvalidRequest,
			"path must end with the target topic label")
	}
	return datamodel.TopicPath(r.Path).Clone(), nil
}

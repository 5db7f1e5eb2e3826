package store

import "time"

// Run 状态常量
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run 一次生成运行的记录
type Run struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	Status      string `gorm:"size:16;index" json:"status"`
	ModelID     string `gorm:"size:128" json:"model_id"`
	Kind        string `gorm:"size:16" json:"kind"`
	RootTopic   string `gorm:"size:512" json:"root_topic"`
	Cascade     bool   `json:"cascade"`
	SampleCount int    `json:"sample_count"`

	// 完成后回填
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Outcomes []RunOutcome `gorm:"foreignKey:RunID" json:"outcomes,omitempty"`
}

// RunOutcome 单个主题的生成结果
type RunOutcome struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID        string `gorm:"size:36;index" json:"run_id"`
	TopicPath    string `gorm:"size:1024" json:"topic_path"`
	Status       string `gorm:"size:16" json:"status"`
	ErrorCode    string `gorm:"size:64" json:"error_code,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`
	Samples      int    `json:"samples"`

	CreatedAt time.Time `json:"created_at"`
}

// SavedSample 用户确认保存的样本
type SavedSample struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	RunID      string `gorm:"size:36;index" json:"run_id"`
	TopicPath  string `gorm:"size:1024;index" json:"topic_path"`
	Content    string `gorm:"type:text" json:"content"`
	ModelName  string `gorm:"size:128" json:"model_name"`
	Provider   string `gorm:"size:64" json:"provider"`
	Kind       string `gorm:"size:16" json:"kind"`
	TokenCount int    `json:"token_count"`

	CreatedAt time.Time `json:"created_at"`
}

// Package types 定义 dataforge 全局共享的基础类型：
// 统一错误结构（错误码、HTTP 状态、可重试标记）及其辅助函数。
package types

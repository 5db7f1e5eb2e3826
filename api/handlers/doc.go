// Package handlers 实现 DataForge HTTP API 的各个端点处理器。
//
// 所有处理器共享 common.go 中的响应辅助函数与错误码映射，
// 认证、限流等横切关注点由 cmd/dataforge 的中间件链处理。
package handlers

// Package taskrunner 封装对上游任务运行服务（task-runner）的 HTTP 调用：
// 合成样本生成端点、模型列表端点与健康检查。
// 响应体通过显式的类型化解析函数解码，样本列表缺失或为空均视为形状错误。
package taskrunner

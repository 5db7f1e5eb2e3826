// Package store 持久化生成运行与已保存样本。
//
// 默认使用 SQLite（纯 Go 驱动，免 CGO），生产环境可切换 PostgreSQL。
// 表结构通过 GORM AutoMigrate 维护。
package store

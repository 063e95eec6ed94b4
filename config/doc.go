// Package config 提供 tokengate 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（TOKENGATE_ 前缀）的顺序叠加，
// 覆盖调度、重试、预算、价格表、上下文缓存、策略优化、日志与遥测。
package config

// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

// Package config 提供 BatchFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（BATCHFLOW_ 前缀）的顺序加载，
// 包含服务器、日志、遥测、Redis 事件、健康报告存储、监控与通道配置。
// 通道配置通过 ChannelConfig.ToBatchConfig 合并到 batch 包的默认值上。
package config

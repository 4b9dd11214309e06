// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 BatchFlow 服务端程序入口。

# 概述

cmd/batchflow 托管批处理引擎：按 YAML 配置初始化通道，通过 HTTP 暴露
通道统计、健康检查与控制接口，并把批次事件发送到 Prometheus、
OpenTelemetry 以及可选的 Redis。

# 核心类型

  - Server：组合根，持有 batch.Manager、健康监控、事件发布器、
    报告存储与 API/Metrics 两个 server.Manager。
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler。

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、
    RequestLogger、MetricsMiddleware、RateLimiter（基于 IP）、
    APIKeyAuth（只保护 stop/resume 等写操作）
  - Metrics：metrics_port 非 0 时独立端口暴露 /metrics，否则挂在 API 端口
  - 优雅关闭：信号 → 关闭 HTTP → 停止监控 → 排空通道 → 关闭 Redis、
    数据库与遥测导出器
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main

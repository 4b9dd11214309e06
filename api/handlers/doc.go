// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 BatchFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现通道统计、通道控制与健康检查端点，以及统一的
响应与错误处理。所有 Handler 均遵循标准 net/http 接口，路由使用
Go 1.22 的方法与路径参数模式。

# 核心类型

  - ChannelHandler  : /v1/channels 列表、单通道统计、健康、停止与恢复
  - HealthHandler   : 服务健康检查（/health, /healthz, /ready, /version）
  - Response        : 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo       : 结构化错误信息，含 code、message、channel、retryable
  - ResponseWriter  : 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck     : 可插拔依赖检查接口（Redis、数据库等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON
  - 错误类别到 HTTP 状态码映射：未初始化 404、停止或释放 409、
    限流或队列满 429、熔断 503、超时 504、下游失败 502
  - /health 汇总所有通道，任一 unhealthy 返回 503
*/
package handlers

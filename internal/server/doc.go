// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
batchflow serve 用它分别承载 API 服务与 Prometheus 指标服务。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Wait 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小、
    优雅关闭超时以及可选的 TLS 证书。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - TLS：配置证书与私钥后通过 tlsutil.ServerTLSConfig 以 HTTPS 启动。
  - 优雅关闭：Shutdown 在配置的超时内排空请求，重复调用为空操作。
  - 错误传播：Wait 与 Errors 暴露后台服务异常。
  - 状态查询：IsRunning/Addr/ListenAddr。
*/
package server

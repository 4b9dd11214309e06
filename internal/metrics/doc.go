// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的批处理指标采集能力，覆盖
HTTP、批次执行、通道统计、健康状态与数据库五个维度。

# 概述

Collector 通过 promauto.With(registry) 注册全部指标，调用方可以传入
独立的 Registry 以便测试隔离。Collector 同时实现 batch.EventSink，
挂到处理器上即可随每个批次事件更新批次指标。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 向量指标。

# 主要能力

  - 批次指标：批次总数、批大小与执行耗时分布、最近一批成功率与吞吐、
    自适应批大小，按 channel 分组。
  - 通道统计：请求累计计数、排队深度、待重试数、最早请求年龄、
    熔断器状态，由 ObserveStatistics 从统计快照刷新。
  - 健康指标：ObserveHealth 记录通道当前健康状态。
  - HTTP 与数据库指标：请求总数与耗时、查询耗时。
*/
package metrics

// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
包 monitor 周期性地检查所有批处理通道的健康度。

# 概述

Monitor 按固定间隔调用 Source（通常是 batch.Manager）的
PerformAllHealthChecks 与 GetAllStatistics，把结果推送给 Observer
（Prometheus 指标收集器），在状态变化时写日志，并可通过 Store
持久化历史报告。

# 存储

GormStore 把报告写入 health_reports 表，支持 postgres、mysql 与 sqlite。
表结构由 internal/migration 的迁移文件维护，sqlite 与测试可使用
AutoMigrate。设置保留时长后，Monitor 每小时最多清理一次过期报告。
*/
package monitor

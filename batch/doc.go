// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
Package batch 提供自适应批处理与准入控制引擎。

# 概述

调用方将独立的异步操作提交到命名通道，每个通道由一个 Processor
负责：按优先级排队、按去重键合并、在满足切批条件时收集一批，
经熔断器与单请求超时并发执行，失败按指数退避重试，并根据吞吐量
与成功率自适应调整批大小。

# 核心类型

  - Manager：通道注册表，对外 API（AddToBatch / Submit / ProcessBulk / 健康检查）
  - Processor：单通道控制循环，同一时刻最多执行一批
  - ChannelConfig：通道配置，初始化时校验
  - Future：只解决一次的结果句柄，Await / AwaitTyped 等待
  - EventSink：批处理完成事件的外部接收方

# 切批规则

  - 即时：有 critical 请求；排队数达到当前批大小；最早请求等待超过 0.8 × MaxWaitTime
  - 周期（每 MaxWaitTime）：排队数达到 MinBatchSize，或最早请求等满 MaxWaitTime
  - 收集顺序 critical → high → normal → low，同级先进先出

# 使用方式

	m := batch.NewManager(batch.WithLogger(logger))
	defer m.Dispose()

	if err := m.InitializeChannel("search", batch.DefaultChannelConfig()); err != nil {
	    return err
	}
	f, err := m.AddToBatch(ctx, "search", op, batch.WithPriority(batch.PriorityHigh), batch.WithDedupKey("q:42"))
	if err != nil {
	    return err
	}
	value, err := f.Await(ctx)
*/
package batch

// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
包 events 将批处理事件发布到 Redis。

# 概述

Publisher 实现 batch.EventSink。每个 BatchProcessedEvent 以 JSON 形式
发布到 <prefix>:<channel> 频道，同时写入 <prefix>:latest:<channel>
键保存最近一次事件，两者在同一个事务管道中提交。

# 主要能力

  - Publish：发布事件并刷新最近事件。
  - Latest：读取通道最近一次事件，没有时返回 ErrNoEvent。
  - Subscribe：订阅一个或多个通道（不指定时按前缀订阅全部）。
  - 后台健康检查：按间隔 Ping Redis 并记录日志。
*/
package events

// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 BatchFlow 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 batch、monitor、
cmd 等上层模块提供统一的错误契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 Channel、Retryable 标记

# 错误分类

  - 准入错误：CHANNEL_NOT_INITIALIZED / PROCESSOR_STOPPED / QUEUE_FULL / RATE_LIMITED
  - 执行错误（可重试）：TIMEOUT / DOWNSTREAM_EXECUTION / CIRCUIT_OPEN
  - 终态错误：RETRIES_EXHAUSTED / PROCESSOR_DISPOSED
  - 配置与参数错误：INVALID_CONFIG / INVALID_REQUEST

# 主要能力

  - 错误工具链：AsError / IsCode / GetErrorCode / IsRetryable
  - errors.Is 按错误码匹配：errors.Is(err, types.NewError(types.ErrTimeout, ""))
*/
package types

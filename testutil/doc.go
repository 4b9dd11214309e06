// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 BatchFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。根包不依赖 batch，
batch 包内部测试也可以直接使用。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 错误断言: AssertErrorCode / AssertErrorCodeInChain
  - 异步断言: AssertEventuallyTrue / WaitForChannel

# 子包

  - testutil/mocks: RecordingSink（记录批处理事件）与 Operation
    （可编排成功、失败、阻塞的下游操作）
  - testutil/fixtures: 预置通道配置

# 使用示例

	ctx := testutil.TestContext(t)
	op := mocks.NewOperation().FailTimes(2, errors.New("boom")).WithValue("ok")
	f, err := m.AddToBatch(ctx, "search", op.Func())
	require.NoError(t, err)
	v, err := f.Await(ctx)
*/
package testutil

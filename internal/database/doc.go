// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，供健康报告存储使用。

# 概述

Open 根据 config.DatabaseConfig 选择 postgres、mysql 或 sqlite（纯 Go 实现）
方言并建立连接，连接失败按 ConnectRetries 退避重试。PoolManager 在此基础上统一管理连接池参数、后台探活、
统计信息与事务执行。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：连接池配置，可由 PoolConfigFrom 从数据库配置派生。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 借助 retry 包的指数退避
重试死锁、序列化失败、锁超时与连接类错误。
*/
package database

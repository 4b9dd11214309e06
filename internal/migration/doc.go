// Copyright (c) BatchFlow Authors.
// Licensed under the MIT License.

/*
包 migration 维护健康报告存储的数据库 Schema，基于 golang-migrate 实现，
支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下，
文件名形如 000001_create_health_reports.up.sql。SQLite 使用
modernc.org/sqlite 纯 Go 驱动，无需 CGO。

# 核心类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：golang-migrate 实现，迁移日志转发到 zap。
  - CLI：batchflow migrate 子命令的终端输出层。

# 工厂函数

NewMigratorFromConfig、NewMigratorFromDatabaseConfig 与 NewMigratorFromURL
分别从应用配置、数据库配置与连接串创建迁移器。
*/
package migration

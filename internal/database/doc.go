// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开 GORM 连接并管理其连接池，供 SQL 知识库后端使用。

# 核心类型

  - PoolManager：持有 GORM 实例与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 以及事务执行。
  - PoolConfig：连接池参数（最大空闲/打开连接数、生命周期、探活间隔）。

# 驱动

Open 按驱动名选择方言：postgres、mysql，以及纯 Go 实现的 sqlite
（github.com/glebarez/sqlite，无需 cgo）。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 对死锁、序列化冲突、
sqlite 锁等可重试错误做指数退避重试。
*/
package database

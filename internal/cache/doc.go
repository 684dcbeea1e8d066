// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理 Redis 连接，供 redis 知识库后端使用。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Client()、Key() 命名空间拼接、
    GetJSON/SetJSON、Ping 与 Close。后台按 HealthCheckInterval 探活。
  - Config：地址、密码、库编号、键前缀与连接池参数。

# 错误语义

  - ErrCacheMiss / IsCacheMiss：键不存在。
  - ErrClosed：管理器已关闭后的任何调用。
*/
package cache

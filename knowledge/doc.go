// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 knowledge 提供智能体共享的知识库。

# 内容

  - 世界状态：键值对，记录写入时间与来源；每次写入使版本号加一。
  - 本体：按名称登记的概念定义。
  - 决策日志：追加写入的 types.Decision 审计记录，可按任务过滤。
  - 智能体状态：按智能体 ID 保存的最近一次快照。

# 后端

  - MemoryStore：进程内实现，支持 ExportSnapshot / ImportSnapshot。
  - RedisStore：基于 internal/cache 的 go-redis 实现，hash + list 布局。
  - SQLStore：基于 internal/database 的 GORM 实现，支持 postgres、mysql、sqlite。

NewStore 按 Config.Backend 选择后端。任一后端的 I/O 失败都以
types.ErrStoreUnavailable 返回，且标记为可重试。

所有后端都满足 agent.KnowledgeSink，可直接注入编排引擎。
*/
package knowledge

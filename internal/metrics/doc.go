// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、消息中心、
智能体、共识与编排引擎五个维度。

# 核心类型

  - Collector：通过 promauto 注册全部指标，按 namespace 隔离。
    它同时实现 collaboration.HubMetrics、agent.AgentMetrics、
    decision.ConsensusMetrics 与 agent.EngineMetrics，
    把它作为 agent.WithEngineMetrics 传给引擎即可一并接入消息中心与共识。

# 主要指标

  - HTTP：请求总数（状态码归类为 2xx/3xx/4xx/5xx）、耗时、响应体大小、
    消息流 websocket 连接数。
  - 消息中心：按类型统计已接受的消息，按原因统计丢弃。
  - 智能体：钩子失败次数、状态转换次数。
  - 共识：选票分布、超时弃权、投票轮耗时。
  - 引擎：任务分配结果、协作决策结果、已注册智能体数量。
*/
package metrics

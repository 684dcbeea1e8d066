// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentCouncil HTTP API 的请求处理器实现。

# 概述

handlers 包把编排引擎、共享知识库与健康检查暴露为 JSON 端点，
并通过 websocket 推送消息中心的审计流。所有 Handler 均遵循标准
net/http 接口，路由使用 Go 1.22 的方法+路径模式注册。

# 核心类型

  - CouncilHandler：状态、智能体、任务分配、协作决策、共享状态、
    紧急停止/恢复、消息审计与知识库查询
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，支持 Hijack
  - Readiness：就绪响应，汇总引擎运行/停止状态与知识库连通性

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 消息流：GET /api/v1/messages/stream 以 websocket 文本帧推送每条消息，
    慢客户端丢弃多余消息而不阻塞消息中心
*/
package handlers

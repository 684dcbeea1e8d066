// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentcouncil 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、decision、knowledge、
api 等上层模块提供统一的数据契约，以避免循环依赖。

# 核心类型

  - AgentIdentity：智能体身份（角色、状态、能力集合、专业度）
  - Task：任务（优先级、所需能力、分配列表、状态、结果），并发安全
  - Option：候选方案
  - Decision：追加写入的决策审计记录
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 错误分类

  - 校验错误（INVALID_THRESHOLD、EMPTY_OPTIONS）在任何状态变更之前返回
  - NO_ELIGIBLE_VOTERS 随结构化结果一起返回
  - 其余可预期情况（未知目标、投票超时、能力不匹配）被吸收为正常结果
*/
package types

// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

# 概述

AgentCouncil 同时运行 API 服务器与 Prometheus 指标服务器，
两者各由一个 Manager 封装 net/http.Server，统一管理监听、
服务、关闭与错误传播流程。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Errors/Addr 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与
    优雅关闭超时。
  - Group：API 与指标服务器的共同生命周期。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空。
  - 服务器组：Group 依次启动成员（失败回滚已启动者），Wait 监听
    SIGINT/SIGTERM 与各成员的异步错误并返回触发原因，Shutdown 并发关闭。
*/
package server

// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package collaboration 提供智能体之间的进程内消息通道。
//
// MessageHub 为每个智能体维护一个 FIFO 收件箱，支持点对点发送、广播、
// 主题订阅和全量观察，并按发布顺序保存审计日志。投递失败（收件人未注册、
// 收件箱已满）只丢弃该份投递，消息仍进入审计日志。订阅者的错误和 panic
// 被捕获并记录，不影响收件箱投递和其他订阅者。
package collaboration

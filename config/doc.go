// Package config 提供 AgentCouncil 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，环境变量键为
// AGENTCOUNCIL_<SECTION>_<FIELD>，例如 AGENTCOUNCIL_ENGINE_VOTE_TIMEOUT=5s。
// Validate 汇总所有字段错误后一次返回。
package config

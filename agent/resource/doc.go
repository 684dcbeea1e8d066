/*
包 resource 提供一个可插拔行为的示例实现：资源分配智能体。

每个智能体具备 {专业领域, resource_allocation} 两项能力，按偏好
（cost_focused / speed_focused / quality_focused / balanced）选择效用权重，
专业度在 [0.7, 1.0) 内随机。投票时以自身效用函数为方案排序：
最佳得分高于 0.6 为强烈支持，高于 0.4 为一般支持，否则反对；
没有方案时弃权。

DefaultRoster 给出演示用的五人阵容，cmd/agentcouncil demo 使用它。
*/
package resource

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent"
	"github.com/BaSui01/agentcouncil/agent/resource"
	"github.com/BaSui01/agentcouncil/config"
	"github.com/BaSui01/agentcouncil/knowledge"
	"github.com/BaSui01/agentcouncil/types"
)

// =============================================================================
// 🎬 资源分配演示
// =============================================================================

// runDemo 依次运行三个场景：worker 表决扩容方案、按能力分配任务、全员表决发布策略
func runDemo(ctx context.Context, cfg *config.Config, w io.Writer, logger *zap.Logger, seed uint64) error {
	rule := strings.Repeat("=", 60)
	sep := strings.Repeat("-", 60)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "AGENTCOUNCIL - COLLABORATIVE DECISION DEMO")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)

	store := knowledge.NewMemoryStore()
	defer store.Close()

	engine := agent.NewEngine(engineConfig(cfg.Engine), logger, agent.WithKnowledgeSink(store))
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		fmt.Fprintln(w, "Shutting down...")
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := engine.Stop(stopCtx); err != nil {
			logger.Warn("engine stop failed", zap.Error(err))
		}
		fmt.Fprintln(w, "Done!")
	}()

	fmt.Fprintln(w, "Registering agents...")
	for i, p := range resource.DefaultRoster() {
		opts := []resource.Option{
			resource.WithLogger(logger),
			resource.WithAgentOptions(agent.WithTiming(cfg.Engine.PollInterval, cfg.Engine.IdleYield)),
		}
		if seed != 0 {
			opts = append(opts, resource.WithSeed(seed+uint64(i)))
		}
		a := resource.New(p.Name, p.Role, p.Specialization, p.Bias, opts...)
		if err := engine.RegisterAgent(a.BaseAgent); err != nil {
			return err
		}
		fmt.Fprintf(w, "  - %s (%s, %s, expertise %.2f)\n", a.Name(), a.Role(), a.Bias(), a.Expertise())
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Starting agents...")
	if err := engine.StartAllAgents(); err != nil {
		return err
	}
	printStatus(w, engine.Status())
	fmt.Fprintln(w)

	// 场景一：worker 表决
	fmt.Fprintln(w, sep)
	fmt.Fprintln(w, "SCENARIO 1: Resource Allocation Decision")
	fmt.Fprintln(w, sep)
	fmt.Fprintln(w)

	scaleUp := resource.ScaleUpOptions()
	fmt.Fprintln(w, "Options for voting:")
	for i, opt := range scaleUp {
		fmt.Fprintf(w, "  %d. %v: %v\n", i+1, opt["name"], opt["description"])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Running collaborative decision (workers vote)...")
	threshold := 0.5
	res, err := engine.RunCollaborativeDecision(ctx, agent.DecisionRequest{
		Description: "How should we handle increased system load?",
		Options:     scaleUp,
		VoterRole:   types.RoleWorker,
		Threshold:   &threshold,
	})
	if err != nil {
		return fmt.Errorf("scenario 1: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Voting Results:")
	fmt.Fprintf(w, "  Total votes: %d\n", res.Tally.VoteCount)
	fmt.Fprintf(w, "  Yes weight: %.2f\n", res.Tally.YesWeight)
	fmt.Fprintf(w, "  No weight: %.2f\n", res.Tally.NoWeight)
	fmt.Fprintf(w, "  Approval: %.1f%%\n", res.Tally.YesRatio*100)
	fmt.Fprintf(w, "  Threshold: %.1f%%\n", res.Tally.Threshold*100)
	fmt.Fprintf(w, "  Passed: %t\n", res.Passed)
	printSelected(w, res, scaleUp)
	fmt.Fprintln(w)

	// 场景二：按能力分配任务
	fmt.Fprintln(w, sep)
	fmt.Fprintln(w, "SCENARIO 2: Autonomous Task Execution")
	fmt.Fprintln(w, sep)
	fmt.Fprintln(w)

	task := types.NewTask("Implement Cost Analysis", "finance")
	task.Description = "Analyze resource costs for the selected approach"
	task.Priority = 8
	if res.Decision != nil {
		task.Constraints["decision_id"] = res.Decision.ID
	}

	fmt.Fprintf(w, "Assigning task: %s\n", task.Name)
	fmt.Fprintf(w, "Required capability: %v\n", task.RequiredCapabilities)
	assigned := engine.AssignTask(ctx, task, "")
	fmt.Fprintf(w, "Assignment success: %t\n", assigned)
	if assigned {
		waitForTask(ctx, task, 2*time.Second)
		fmt.Fprintf(w, "Task status: %s (assigned to %v)\n", task.Status(), task.AssignedAgents())
	}
	fmt.Fprintln(w)

	// 场景三：全员表决
	fmt.Fprintln(w, sep)
	fmt.Fprintln(w, "SCENARIO 3: All Agents Vote (Different Threshold)")
	fmt.Fprintln(w, sep)
	fmt.Fprintln(w)

	deployment := resource.DeploymentOptions()
	fmt.Fprintln(w, "Deployment strategy vote (all agents, 60% threshold)...")
	threshold = 0.6
	res, err = engine.RunCollaborativeDecision(ctx, agent.DecisionRequest{
		Description: "How should we deploy the changes?",
		Options:     deployment,
		Threshold:   &threshold,
		TaskID:      task.ID,
	})
	if err != nil {
		return fmt.Errorf("scenario 3: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Voting Results:")
	fmt.Fprintf(w, "  Approval: %.1f%% (threshold: 60%%)\n", res.Tally.YesRatio*100)
	fmt.Fprintf(w, "  Passed: %t\n", res.Passed)
	printSelected(w, res, deployment)
	fmt.Fprintln(w)

	// 汇总
	fmt.Fprintln(w, sep)
	fmt.Fprintln(w, "SYSTEM SUMMARY")
	fmt.Fprintln(w, sep)
	status := engine.Status()
	fmt.Fprintf(w, "Total agents: %d\n", status.TotalAgents)
	fmt.Fprintf(w, "Decisions made: %d\n", status.DecisionsMade)
	fmt.Fprintf(w, "Messages logged: %d\n", len(engine.MessageLog(0)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Decision Log:")
	for _, d := range engine.Decisions() {
		fmt.Fprintf(w, "  - %s\n", d.Rationale)
		fmt.Fprintf(w, "    Consensus: %.1f%%\n", d.ConsensusScore*100)
		fmt.Fprintf(w, "    Votes: %v\n", d.Votes)
	}
	fmt.Fprintln(w)
	return nil
}

func printStatus(w io.Writer, s agent.Status) {
	fmt.Fprintf(w, "System status: running=%t agents=%d by_role=%v by_status=%v\n",
		s.Running, s.TotalAgents, s.AgentsByRole, s.AgentsByStatus)
}

func printSelected(w io.Writer, res *agent.DecisionResult, options []map[string]any) {
	if res.Passed && res.WinningOption >= 0 && res.WinningOption < len(options) {
		fmt.Fprintf(w, "  Selected: %v\n", options[res.WinningOption]["name"])
	}
}

// waitForTask 轮询直到任务结束或超时
func waitForTask(ctx context.Context, task *types.Task, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch task.Status() {
		case types.TaskCompleted, types.TaskFailed:
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

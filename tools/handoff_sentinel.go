package tools

import (
	"fmt"
)

// handoffToAgent implements the handoff_to_agent pseudo-tool (C5): it does
// no work, it only records intent on the registry for the Agency to
// validate and execute after the agent's turn completes. This decouples
// the model's request to hand off from its execution (§4.5).
func handoffToAgent(r *Registry, rawArgs map[string]any) string {
	var args HandoffArgs
	if err := decodeJSONTagged(rawArgs, &args); err != nil {
		return fmt.Sprintf("Error: invalid handoff arguments: %v", err)
	}

	if r.IsParallelBranch() {
		return "WARNING: Handoff not allowed - you are running in a parallel branch. " +
			"Parallel branches cannot initiate handoffs. Complete your assigned task " +
			"and return results to the aggregator agent."
	}

	targets := dedupeTargets(args.AgentName, args.AgentNames)
	if len(targets) == 0 {
		return "Error: No agent specified for handoff. Provide agent_name or agent_names."
	}

	aggregationTarget := args.AggregationTarget
	if aggregationTarget == "" {
		aggregationTarget = "Coder"
	}

	descriptor := &HandoffDescriptor{
		Message:           args.Message,
		Context:           args.Context,
		AggregationTarget: aggregationTarget,
	}

	if len(targets) > 1 {
		descriptor.Mode = HandoffParallel
		descriptor.AgentNames = targets
		r.setPendingHandoff(descriptor)
		return fmt.Sprintf("Parallel handoff scheduled to %v. Message: %s", targets, preview(args.Message, 100))
	}

	descriptor.Mode = HandoffSingle
	descriptor.AgentName = targets[0]
	r.setPendingHandoff(descriptor)
	return fmt.Sprintf("Handoff to %s scheduled. Message: %s", targets[0], preview(args.Message, 100))
}

// dedupeTargets unions agentName and agentNames, deduplicated while
// preserving first-seen order, per §4.5 rule 2.
func dedupeTargets(agentName string, agentNames []string) []string {
	targets := make([]string, 0, len(agentNames)+1)
	if agentName != "" {
		targets = append(targets, agentName)
	}
	targets = append(targets, agentNames...)

	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

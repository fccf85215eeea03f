package tools

import "github.com/kadirpekel/agency/llms"

// HandoffMode distinguishes a single-target handoff from a parallel
// fan-out to several targets.
type HandoffMode string

const (
	HandoffSingle   HandoffMode = "single"
	HandoffParallel HandoffMode = "parallel"
)

// HandoffDescriptor is the intent recorded by the handoff sentinel tool
// and later consumed (and validated against the flow graph) by the
// Agency — it is never executed by the registry itself.
type HandoffDescriptor struct {
	Mode              HandoffMode
	Message           string
	Context           string
	AggregationTarget string
	AgentName         string   // set when Mode == HandoffSingle
	AgentNames        []string // set when Mode == HandoffParallel
}

// HandoffArgs is the sentinel tool's argument shape, also used to derive
// its JSON schema (§6: "the handoff sentinel schema exposes
// {agent_name?, agent_names?, message, context?, aggregation_target?}").
type HandoffArgs struct {
	AgentName         string   `json:"agent_name,omitempty" jsonschema:"description=Single target agent name"`
	AgentNames        []string `json:"agent_names,omitempty" jsonschema:"description=Multiple target agent names for a parallel fan-out"`
	Message           string   `json:"message" jsonschema:"required,description=Message to hand off to the target agent(s)"`
	Context           string   `json:"context,omitempty" jsonschema:"description=Additional context for the target agent(s)"`
	AggregationTarget string   `json:"aggregation_target,omitempty" jsonschema:"description=Agent that merges parallel branch results,default=Coder"`
}

func handoffSchema() llms.ToolSchema {
	return llms.ToolSchema{
		Type: "function",
		Function: llms.ToolSchemaFunc{
			Name:        handoffToolName,
			Description: "Hand off the conversation to one or more other agents.",
			Parameters:  schemaFor(HandoffArgs{}),
		},
	}
}

package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/agency/llms"
)

// Handler executes a tool body given validated arguments and the
// branch-local Context. It returns the result as a string per the
// contract: structured data must be serialized by the tool itself.
type Handler func(ctx context.Context, tc *Context, args map[string]any) (string, error)

// Def is a registered tool definition: its name, description, an
// exemplar args struct used to derive its JSON schema via
// invopop/jsonschema, and the handler that runs it.
type Def struct {
	Name        string
	Description string
	ArgsType    any            // zero value of the tool's typed argument struct, e.g. ReadArgs{}
	Schema      map[string]any // when set, used verbatim instead of reflecting ArgsType (e.g. MCP-discovered tools)
	Handler     Handler
}

// Error reports a registry-level failure (unknown tool, duplicate
// registration), following the teacher's *ToolRegistryError
// component+action+message+cause convention.
type Error struct {
	Action  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tools: %s: %s: %v", e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("tools: %s: %s", e.Action, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

const handoffToolName = "handoff_to_agent"

// Registry is the dispatcher that maps tool names to implementations,
// produces JSON schemas, and enforces write serialization across any set
// of registries forked from the same root (C2 in the component design).
type Registry struct {
	mu               sync.RWMutex
	defs             map[string]*Def
	context          *Context
	pendingHandoff   *HandoffDescriptor
	writeLock        *sync.Mutex
	mutatingTools    map[string]bool
	name             string
	isParallelBranch bool
}

// New constructs a root registry with a fresh Context and its own write
// lock. mutatingToolNames designates tools (at minimum "edit" and "write")
// that must run under exclusive write-lock.
func New(mutatingToolNames ...string) *Registry {
	mutating := make(map[string]bool, len(mutatingToolNames))
	for _, n := range mutatingToolNames {
		mutating[n] = true
	}
	return &Registry{
		defs:          make(map[string]*Def),
		context:       NewContext(),
		writeLock:     &sync.Mutex{},
		mutatingTools: mutating,
		name:          "root",
	}
}

// Register adds a tool definition keyed by its declared name. Re-registering
// the same name with an identical definition pointer is a no-op; any other
// duplicate is rejected so a tool body never silently overwrites another.
func (r *Registry) Register(def *Def) error {
	if def == nil || def.Name == "" {
		return &Error{Action: "register", Message: "tool definition must have a name"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.defs[def.Name]; ok && existing != def {
		return &Error{Action: "register", Message: fmt.Sprintf("tool %q already registered with a different definition", def.Name)}
	}
	r.defs[def.Name] = def
	return nil
}

// Schemas returns the stable, provider-neutral function-tool descriptor
// list, plus the handoff sentinel's own schema (always present, since the
// sentinel is not a registered Def but is always dispatchable).
func (r *Registry) Schemas() []llms.ToolSchema {
	r.mu.RLock()
	defs := make([]*Def, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	r.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	schemas := make([]llms.ToolSchema, 0, len(defs)+1)
	for _, d := range defs {
		params := d.Schema
		if params == nil {
			params = schemaFor(d.ArgsType)
		}
		schemas = append(schemas, llms.ToolSchema{
			Type: "function",
			Function: llms.ToolSchemaFunc{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	schemas = append(schemas, handoffSchema())
	return schemas
}

// reflector is shared across schemaFor calls; invopop/jsonschema caches
// reflected types internally so reuse is both correct and cheap.
var reflector = &jsonschema.Reflector{
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: false,
}

// schemaFor turns a tool's exemplar args struct into the "parameters"
// JSONSchema object the provider-neutral tool schema embeds, mirroring
// the jsonschema struct-tag convention used throughout the teacher's
// filetool package (`jsonschema:"required,description=..."`).
func schemaFor(argsType any) map[string]any {
	if argsType == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	schema := reflector.Reflect(argsType)
	out := map[string]any{
		"type": "object",
	}
	if schema.Properties != nil {
		props := map[string]any{}
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			props[pair.Key] = pair.Value
		}
		out["properties"] = props
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// Execute looks up name and invokes it with arguments, decoded into the
// tool's typed args struct via mapstructure and re-serialized to
// map[string]any for the Handler (the core's contract runs on
// map[string]any; mapstructure validation happens for the round trip).
// Mutating tools acquire the write lock in exclusive mode, shared across
// every registry forked from the same root. Tool body panics/errors never
// propagate: unknown tool and body failures both return an error string.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	if name == handoffToolName {
		return handoffToAgent(r, args)
	}

	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Error executing tool: tool %q not found in registry", name)
	}

	decoded, err := decodeArgs(def.ArgsType, args)
	if err != nil {
		return fmt.Sprintf("Error executing tool: invalid arguments for %q: %v", name, err)
	}

	run := func() (out string) {
		defer func() {
			if p := recover(); p != nil {
				out = fmt.Sprintf("Error executing tool: panic: %v", p)
			}
		}()
		result, err := def.Handler(ctx, r.context, decoded)
		if err != nil {
			return fmt.Sprintf("Error executing tool: %v", err)
		}
		return result
	}

	if r.mutatingTools[name] {
		r.writeLock.Lock()
		defer r.writeLock.Unlock()
	}
	return run()
}

// decodeArgs round-trips args through the tool's typed struct (when one is
// set) so malformed or missing fields are caught before the handler runs,
// then flattens back to map[string]any for the handler's own use.
func decodeArgs(argsType any, args map[string]any) (map[string]any, error) {
	if argsType == nil {
		return args, nil
	}

	target := newOf(argsType)
	if err := decodeJSONTagged(args, target); err != nil {
		return nil, err
	}

	var out map[string]any
	if err := decodeJSONTagged(target, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeJSONTagged runs mapstructure keyed on the `json` struct tags, so
// snake_case argument keys such as "file_path" map onto their fields.
func decodeJSONTagged(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: out})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// Fork returns a new registry that shares defs and the write lock but has
// a cloned Context and no pending handoff. isParallelBranch, when true,
// causes the handoff sentinel to refuse from this registry (§4.5 rule 1).
func (r *Registry) Fork(name string, isParallelBranch bool) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.name + "-fork"
	}
	return &Registry{
		defs:             r.defs, // shared definitions
		context:          r.context.Clone(),
		writeLock:        r.writeLock, // shared write lock
		mutatingTools:    r.mutatingTools,
		name:             name,
		isParallelBranch: isParallelBranch,
	}
}

// Context returns this registry's owned Context.
func (r *Registry) Context() *Context { return r.context }

// Name returns this registry's (fork) name, for logs and events.
func (r *Registry) Name() string { return r.name }

// IsParallelBranch reports whether this registry was forked for a
// parallel handoff branch.
func (r *Registry) IsParallelBranch() bool { return r.isParallelBranch }

// TakePendingHandoff reads and clears the pending handoff descriptor, the
// sole way the Agency consumes a sentinel-recorded handoff. Clearing here
// implements invariant (i) of §3's ToolRegistry entity.
func (r *Registry) TakePendingHandoff() *HandoffDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.pendingHandoff
	r.pendingHandoff = nil
	return d
}

func (r *Registry) setPendingHandoff(d *HandoffDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingHandoff = d
}

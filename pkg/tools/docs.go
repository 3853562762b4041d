package tools

import (
	"fmt"
	"sort"
)

// docSections is the engine documentation served by soe_explore_docs, so
// agents can discover how to drive the injection and context tools.
var docSections = map[string]string{
	"overview": `Workflows are named sets of nodes that communicate through signals.
A node fires when one of its event_triggers matches a dispatched signal,
runs, and emits new signals through its event_emissions. The run ends when
no signals remain. State lives in the execution context: every field keeps
the full history of its writes, and the latest entry is the current value.`,

	"nodes": `Node types:
- router: pure control flow; emits signals whose template conditions are truthy.
- tool: calls a registered tool, stores the result in output_field, and
  routes on conditions over result and context.
- llm: renders a prompt, calls the model once, stores the response, and
  emits signals either by template conditions or by model selection.
- agent: a multi-turn model loop that may call tools before producing a
  final response.
- child: spawns a sub-orchestration of another workflow, optionally fanning
  out one child per element of an accumulated field.`,

	"signals": `Emission conditions have two modes. A condition containing {{ }} is a
template evaluated against the context (and result on tool nodes). Any
other non-empty condition is a plain-text description: on llm and agent
nodes the model picks the emitted signals from those descriptions; routers
reject plain text at load time.`,

	"context": `Context fields append on every write and never truncate. Read the
current value with {{ .context.field }}, the full history with
(accumulated "field"). The __operational__ namespace tracks signals,
per-node activation counts, llm_calls, tool_calls, and errors; use it in
guard routers to bound recursive workflows.`,

	"tools": `Engine tools: soe_get_workflows, soe_inject_workflow, soe_inject_node,
soe_remove_workflow, soe_remove_node, soe_add_signal mutate this
execution's registry snapshot; soe_get_context, soe_update_context,
soe_copy_context, soe_list_contexts work on context state;
soe_get_identities, soe_inject_identity, soe_remove_identity,
soe_get_context_schema, soe_inject_context_schema_field,
soe_remove_context_schema_field manage the shared identity and schema
definitions; soe_get_available_tools lists tools and soe_call_tool invokes
one dynamically by name.`,
}

func exploreDocs(section string) (any, error) {
	if section == "" {
		sections := make([]string, 0, len(docSections))
		for name := range docSections {
			sections = append(sections, name)
		}
		sort.Strings(sections)
		return map[string]any{"sections": sections}, nil
	}
	content, ok := docSections[section]
	if !ok {
		return nil, fmt.Errorf("unknown documentation section %q", section)
	}
	return map[string]any{"section": section, "content": content}, nil
}

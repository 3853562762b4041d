// Package models defines the core domain models for signal-driven workflow orchestration.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reserved context namespaces. Workflows may read them; writes from
// workflow configuration are ignored.
const (
	OperationalKey = "__operational__"
	ParentKey      = "__parent__"
)

const reservedPrefix = "__"

// IsReservedField reports whether a field name belongs to a reserved namespace.
func IsReservedField(name string) bool {
	return strings.HasPrefix(name, reservedPrefix)
}

// Operational is the engine-managed state stored under __operational__.
type Operational struct {
	Signals         []string       `json:"signals"`
	Nodes           map[string]int `json:"nodes"`
	LLMCalls        int            `json:"llm_calls"`
	ToolCalls       int            `json:"tool_calls"`
	Errors          int            `json:"errors"`
	MainExecutionID string         `json:"main_execution_id"`
}

// NewOperational returns freshly initialized counters for an execution.
func NewOperational(mainExecutionID string) *Operational {
	return &Operational{
		Signals:         []string{},
		Nodes:           map[string]int{},
		MainExecutionID: mainExecutionID,
	}
}

func (o *Operational) clone() *Operational {
	c := &Operational{
		Signals:         append([]string{}, o.Signals...),
		Nodes:           make(map[string]int, len(o.Nodes)),
		LLMCalls:        o.LLMCalls,
		ToolCalls:       o.ToolCalls,
		Errors:          o.Errors,
		MainExecutionID: o.MainExecutionID,
	}
	for k, v := range o.Nodes {
		c.Nodes[k] = v
	}
	return c
}

func (o *Operational) asMap() map[string]any {
	signals := make([]any, len(o.Signals))
	for i, s := range o.Signals {
		signals[i] = s
	}
	nodes := make(map[string]any, len(o.Nodes))
	for k, v := range o.Nodes {
		nodes[k] = v
	}
	return map[string]any{
		"signals":           signals,
		"nodes":             nodes,
		"llm_calls":         o.LLMCalls,
		"tool_calls":        o.ToolCalls,
		"errors":            o.Errors,
		"main_execution_id": o.MainExecutionID,
	}
}

// ParentInfo is the child-side metadata stored under __parent__.
type ParentInfo struct {
	ParentExecutionID      string   `json:"parent_execution_id"`
	MainExecutionID        string   `json:"main_execution_id"`
	SignalsToParent        []string `json:"signals_to_parent"`
	ContextUpdatesToParent []string `json:"context_updates_to_parent"`
}

func (p *ParentInfo) clone() *ParentInfo {
	return &ParentInfo{
		ParentExecutionID:      p.ParentExecutionID,
		MainExecutionID:        p.MainExecutionID,
		SignalsToParent:        append([]string{}, p.SignalsToParent...),
		ContextUpdatesToParent: append([]string{}, p.ContextUpdatesToParent...),
	}
}

// WantsSignal reports whether a signal should be propagated to the parent.
func (p *ParentInfo) WantsSignal(signal string) bool {
	for _, s := range p.SignalsToParent {
		if s == signal {
			return true
		}
	}
	return false
}

// WantsField reports whether a field update should be propagated to the parent.
func (p *ParentInfo) WantsField(field string) bool {
	for _, f := range p.ContextUpdatesToParent {
		if f == field {
			return true
		}
	}
	return false
}

// FieldWrite records one committed SetField call, in write order.
type FieldWrite struct {
	Field string
	Value any
}

// Context is the per-execution key/value state. Every field maps to a
// history list of JSON-compatible values; the last element is the field's
// current value. Values are normalized to the JSON family
// (nil/bool/float64/string/[]any/map[string]any) on write.
type Context struct {
	fields      map[string][]any
	order       []string
	operational *Operational
	parent      *ParentInfo
	journal     []FieldWrite
}

// NewContext returns an empty context with no operational state attached.
func NewContext() *Context {
	return &Context{fields: map[string][]any{}}
}

// InitOperational attaches freshly initialized operational state if none is
// present. The main execution id is inherited from __parent__ when set.
func (c *Context) InitOperational(executionID string) {
	if c.operational != nil {
		return
	}
	mainID := executionID
	if c.parent != nil && c.parent.MainExecutionID != "" {
		mainID = c.parent.MainExecutionID
	}
	c.operational = NewOperational(mainID)
}

// Operational returns the engine-managed state, nil before InitOperational.
func (c *Context) Operational() *Operational { return c.operational }

// Parent returns the __parent__ metadata, nil on root executions.
func (c *Context) Parent() *ParentInfo { return c.parent }

// SetParent attaches child-to-parent metadata.
func (c *Context) SetParent(p *ParentInfo) { c.parent = p }

// Field returns the current (latest) value of a field.
func (c *Context) Field(name string) (any, bool) {
	hist, ok := c.fields[name]
	if !ok || len(hist) == 0 {
		return nil, false
	}
	return hist[len(hist)-1], true
}

// Accumulated returns the full history list for a field, empty if absent.
// A history holding exactly one entry that is itself a list yields that
// list, so an initial-context list value fans out element-wise.
func (c *Context) Accumulated(name string) []any {
	hist, ok := c.fields[name]
	if !ok {
		return []any{}
	}
	if len(hist) == 1 {
		if inner, ok := hist[0].([]any); ok {
			return append([]any{}, inner...)
		}
	}
	return append([]any{}, hist...)
}

// SetField appends a value to the field's history, creating it on first
// write. Writes to reserved namespaces are rejected.
func (c *Context) SetField(name string, value any) error {
	if IsReservedField(name) {
		return fmt.Errorf("field %q: %w", name, ErrReservedField)
	}
	v := NormalizeValue(value)
	if _, ok := c.fields[name]; !ok {
		c.order = append(c.order, name)
	}
	c.fields[name] = append(c.fields[name], v)
	c.journal = append(c.journal, FieldWrite{Field: name, Value: v})
	return nil
}

// Has reports whether a field exists.
func (c *Context) Has(name string) bool {
	_, ok := c.fields[name]
	return ok
}

// Fields returns field names in first-write order.
func (c *Context) Fields() []string {
	return append([]string{}, c.order...)
}

// History returns the raw history list for a field without the
// single-entry-list flattening Accumulated applies.
func (c *Context) History(name string) []any {
	return append([]any{}, c.fields[name]...)
}

// Snapshot returns a read-only view of current values for templating.
func (c *Context) Snapshot() map[string]any {
	view := make(map[string]any, len(c.fields))
	for name, hist := range c.fields {
		if len(hist) > 0 {
			view[name] = hist[len(hist)-1]
		}
	}
	return view
}

// OperationalView returns the Snapshot merged with __operational__ (and
// __parent__ when present) so guard conditions can read engine counters.
func (c *Context) OperationalView() map[string]any {
	view := c.Snapshot()
	if c.operational != nil {
		view[OperationalKey] = c.operational.asMap()
	}
	if c.parent != nil {
		view[ParentKey] = map[string]any{
			"parent_execution_id":       c.parent.ParentExecutionID,
			"main_execution_id":         c.parent.MainExecutionID,
			"signals_to_parent":         toAnySlice(c.parent.SignalsToParent),
			"context_updates_to_parent": toAnySlice(c.parent.ContextUpdatesToParent),
		}
	}
	return view
}

// Clone returns a deep copy with an empty write journal. Handlers run
// against a clone; the dispatcher commits it only on success.
func (c *Context) Clone() *Context {
	clone := &Context{
		fields: make(map[string][]any, len(c.fields)),
		order:  append([]string{}, c.order...),
	}
	for name, hist := range c.fields {
		cp := make([]any, len(hist))
		for i, v := range hist {
			cp[i] = deepCopyValue(v)
		}
		clone.fields[name] = cp
	}
	if c.operational != nil {
		clone.operational = c.operational.clone()
	}
	if c.parent != nil {
		clone.parent = c.parent.clone()
	}
	return clone
}

// CloneFields returns a deep copy of the field histories only, dropping
// __operational__ and __parent__. Context inheritance starts here.
func (c *Context) CloneFields() *Context {
	clone := &Context{
		fields: make(map[string][]any, len(c.fields)),
		order:  append([]string{}, c.order...),
	}
	for name, hist := range c.fields {
		cp := make([]any, len(hist))
		for i, v := range hist {
			cp[i] = deepCopyValue(v)
		}
		clone.fields[name] = cp
	}
	return clone
}

// Empty reports whether the context has neither fields nor operational
// state, which is how an unknown execution id reads back.
func (c *Context) Empty() bool {
	return len(c.fields) == 0 && c.operational == nil
}

// Journal returns the SetField calls recorded since the last ResetJournal.
func (c *Context) Journal() []FieldWrite {
	return append([]FieldWrite{}, c.journal...)
}

// ResetJournal clears the write journal. Called by the dispatcher at each
// handler boundary.
func (c *Context) ResetJournal() { c.journal = nil }

// MarshalJSON serializes the context in its persisted shape:
// {"field": [v, ...], "__operational__": {...}, "__parent__": {...}}.
func (c *Context) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.fields)+2)
	for name, hist := range c.fields {
		out[name] = hist
	}
	if c.operational != nil {
		out[OperationalKey] = c.operational
	}
	if c.parent != nil {
		out[ParentKey] = c.parent
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a context from its persisted shape.
func (c *Context) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.fields = map[string][]any{}
	c.order = nil
	c.operational = nil
	c.parent = nil
	c.journal = nil
	for name, msg := range raw {
		switch name {
		case OperationalKey:
			op := &Operational{}
			if err := json.Unmarshal(msg, op); err != nil {
				return fmt.Errorf("decode %s: %w", OperationalKey, err)
			}
			if op.Signals == nil {
				op.Signals = []string{}
			}
			if op.Nodes == nil {
				op.Nodes = map[string]int{}
			}
			c.operational = op
		case ParentKey:
			p := &ParentInfo{}
			if err := json.Unmarshal(msg, p); err != nil {
				return fmt.Errorf("decode %s: %w", ParentKey, err)
			}
			c.parent = p
		default:
			var hist []any
			if err := json.Unmarshal(msg, &hist); err != nil {
				return fmt.Errorf("decode field %q: %w", name, err)
			}
			c.fields[name] = hist
			c.order = append(c.order, name)
		}
	}
	return nil
}

// ContextFromInitial builds a context from initial key/value pairs, wrapping
// each value in a fresh history list. Reserved names are skipped.
func ContextFromInitial(initial map[string]any) *Context {
	c := NewContext()
	for name, value := range initial {
		if IsReservedField(name) {
			continue
		}
		_ = c.SetField(name, value)
	}
	c.ResetJournal()
	return c
}

// NormalizeValue projects a value into the JSON family through an
// encode/decode round trip. Values already in the family pass through.
func NormalizeValue(v any) any {
	switch v.(type) {
	case nil, bool, float64, string:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = deepCopyValue(e)
		}
		return cp
	case map[string]any:
		cp := make(map[string]any, len(t))
		for k, e := range t {
			cp[k] = deepCopyValue(e)
		}
		return cp
	default:
		return v
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

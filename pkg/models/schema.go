package models

// SchemaEntry describes one context field for typed accessors and
// model structured-output contracts.
type SchemaEntry struct {
	Type        string                  `yaml:"type"                  json:"type"                  validate:"required,oneof=string integer number boolean object list"`
	Description string                  `yaml:"description,omitempty" json:"description,omitempty"`
	Properties  map[string]*SchemaEntry `yaml:"properties,omitempty"  json:"properties,omitempty"`
	Items       *SchemaEntry            `yaml:"items,omitempty"       json:"items,omitempty"`
}

// FieldSchema maps field name to schema entry, keyed by main_execution_id.
type FieldSchema map[string]*SchemaEntry

// Clone returns a deep copy of the schema.
func (s FieldSchema) Clone() FieldSchema {
	cp := make(FieldSchema, len(s))
	for name, e := range s {
		cp[name] = e.clone()
	}
	return cp
}

func (e *SchemaEntry) clone() *SchemaEntry {
	if e == nil {
		return nil
	}
	cp := &SchemaEntry{Type: e.Type, Description: e.Description}
	if e.Items != nil {
		cp.Items = e.Items.clone()
	}
	if e.Properties != nil {
		cp.Properties = make(map[string]*SchemaEntry, len(e.Properties))
		for k, v := range e.Properties {
			cp.Properties[k] = v.clone()
		}
	}
	return cp
}

// JSONSchema renders the entry as a JSON Schema fragment. The engine's
// "list" type maps to the JSON Schema "array" type.
func (e *SchemaEntry) JSONSchema() map[string]any {
	if e == nil {
		return map[string]any{}
	}
	out := map[string]any{}
	switch e.Type {
	case "list":
		out["type"] = "array"
	default:
		out["type"] = e.Type
	}
	if e.Description != "" {
		out["description"] = e.Description
	}
	if e.Items != nil {
		out["items"] = e.Items.JSONSchema()
	}
	if len(e.Properties) > 0 {
		props := make(map[string]any, len(e.Properties))
		for name, p := range e.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
	}
	return out
}

// Identities maps identity name to system-prompt string, keyed by
// main_execution_id and shared down the orchestration tree.
type Identities map[string]string

// Clone returns a copy of the identities map.
func (i Identities) Clone() Identities {
	cp := make(Identities, len(i))
	for k, v := range i {
		cp[k] = v
	}
	return cp
}

// Config is a parsed workflow definition document: workflows plus the
// optional context_schema and identities sections.
type Config struct {
	Workflows     Registry    `yaml:"workflows"`
	ContextSchema FieldSchema `yaml:"context_schema,omitempty"`
	Identities    Identities  `yaml:"identities,omitempty"`
}

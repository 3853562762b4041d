package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Workflow is an ordered mapping from node name to node configuration.
// Declared order is the tiebreak used everywhere in the kernel, so the
// mapping is kept as a slice.
type Workflow struct {
	Nodes []*NodeConfig
}

// Node returns the named node, nil if absent.
func (w *Workflow) Node(name string) *NodeConfig {
	for _, n := range w.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Triggered returns the nodes whose event_triggers contains the signal,
// in declared order.
func (w *Workflow) Triggered(signal string) []*NodeConfig {
	var out []*NodeConfig
	for _, n := range w.Nodes {
		if n.TriggeredBy(signal) {
			out = append(out, n)
		}
	}
	return out
}

// Put inserts or replaces a node, preserving position on replace.
func (w *Workflow) Put(node *NodeConfig) {
	for i, n := range w.Nodes {
		if n.Name == node.Name {
			w.Nodes[i] = node
			return
		}
	}
	w.Nodes = append(w.Nodes, node)
}

// Remove deletes the named node. Returns false if it was absent.
func (w *Workflow) Remove(name string) bool {
	for i, n := range w.Nodes {
		if n.Name == name {
			w.Nodes = append(w.Nodes[:i], w.Nodes[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (w *Workflow) Clone() *Workflow {
	cp := &Workflow{Nodes: make([]*NodeConfig, len(w.Nodes))}
	for i, n := range w.Nodes {
		cp.Nodes[i] = n.Clone()
	}
	return cp
}

// UnmarshalYAML decodes a workflow from its YAML mapping form, preserving
// document order and rejecting unknown node fields.
func (w *Workflow) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow must be a mapping of node names to configurations")
	}
	w.Nodes = nil
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		cfg := &NodeConfig{}
		if err := decodeStrict(valNode, cfg); err != nil {
			return fmt.Errorf("node %q: %w", keyNode.Value, err)
		}
		cfg.Name = keyNode.Value
		w.Nodes = append(w.Nodes, cfg)
	}
	return nil
}

// MarshalYAML encodes the workflow back to a mapping in declared order.
func (w *Workflow) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, n := range w.Nodes {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: n.Name}
		valNode := &yaml.Node{}
		if err := valNode.Encode(n); err != nil {
			return nil, err
		}
		out.Content = append(out.Content, keyNode, valNode)
	}
	return out, nil
}

// namedNode is the JSON persistence shape of one workflow entry. JSON
// objects do not preserve order, so workflows persist as arrays.
type namedNode struct {
	Name string `json:"name"`
	*NodeConfig
}

// MarshalJSON persists the workflow as an ordered array of named nodes.
func (w *Workflow) MarshalJSON() ([]byte, error) {
	out := make([]namedNode, len(w.Nodes))
	for i, n := range w.Nodes {
		out[i] = namedNode{Name: n.Name, NodeConfig: n}
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a workflow from its persisted array shape.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var in []namedNode
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	w.Nodes = make([]*NodeConfig, len(in))
	for i, nn := range in {
		cfg := nn.NodeConfig
		if cfg == nil {
			cfg = &NodeConfig{}
		}
		cfg.Name = nn.Name
		w.Nodes[i] = cfg
	}
	return nil
}

// Registry maps workflow name to workflow definition. Each execution
// freezes its own registry copy at start or inheritance time.
type Registry map[string]*Workflow

// Clone returns a deep copy of the registry.
func (r Registry) Clone() Registry {
	cp := make(Registry, len(r))
	for name, wf := range r {
		cp[name] = wf.Clone()
	}
	return cp
}

// Names returns the workflow names in unspecified order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}

func decodeStrict(node *yaml.Node, out any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

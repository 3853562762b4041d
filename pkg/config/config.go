// Package config loads workflow definition documents from YAML and
// validates them before any dispatch. Unknown node fields, unknown node
// types, reserved node names, and contradictory parameter sources are all
// rejected here.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/soehq/soe/pkg/models"
)

// Load parses a workflow definition document. Both the combined format
// (workflows + optional context_schema and identities sections) and the
// legacy format (the document is the workflows registry itself) are
// accepted. The result is validated.
func Load(data []byte) (*models.Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses a workflow definition file.
func LoadFile(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	cfg, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte) (*models.Config, error) {
	// Probe for the combined format by looking at top-level keys.
	var probe map[string]yaml.Node
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if _, ok := probe["workflows"]; ok {
		cfg := &models.Config{}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		return cfg, nil
	}

	// Legacy format: the whole document is the workflows registry.
	registry := models.Registry{}
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &models.Config{Workflows: registry}, nil
}

// ParseWorkflow parses a single workflow definition from YAML or JSON text.
// Used by the injection tools.
func ParseWorkflow(data string) (*models.Workflow, error) {
	wf := &models.Workflow{}
	if err := yaml.Unmarshal([]byte(data), wf); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return wf, nil
}

// ParseNode parses a single node configuration from YAML or JSON text.
// Used by the injection tools.
func ParseNode(name, data string) (*models.NodeConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("parse node configuration: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("parse node configuration: empty document")
	}
	cfg := &models.NodeConfig{}
	raw, err := yaml.Marshal(doc.Content[0])
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse node configuration: %w", err)
	}
	cfg.Name = name
	return cfg, nil
}

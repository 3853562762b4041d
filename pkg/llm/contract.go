package llm

import (
	"fmt"
	"strings"

	"github.com/soehq/soe/pkg/models"
)

// selectedSignalsField extends a response contract with model-based signal
// selection when emissions carry semantic conditions.
const selectedSignalsField = "selected_signals"

// outputFieldFallback names the response property when a node has no
// output_field configured.
const outputFieldFallback = "output"

// Contract is the JSON response shape a model call must satisfy.
type Contract struct {
	OutputField     string
	SignalSelection bool
	schema          map[string]any
}

// BuildContract constructs the response contract for an llm or agent final
// response. outputEntry is the field-schema entry for the output field, nil
// when none exists; signalOptions is non-nil when the model selects signals.
func BuildContract(outputField string, outputEntry *models.SchemaEntry, signalOptions []models.Emission) *Contract {
	c := &Contract{OutputField: outputField}

	properties := map[string]any{}
	required := []string{}

	name := outputField
	if name == "" {
		name = outputFieldFallback
	}
	if outputEntry != nil {
		properties[name] = outputEntry.JSONSchema()
	} else {
		properties[name] = map[string]any{
			"description": fmt.Sprintf("The %s value", name),
		}
	}
	required = append(required, name)

	if len(signalOptions) > 0 {
		c.SignalSelection = true
		names := make([]any, len(signalOptions))
		var lines []string
		for i, opt := range signalOptions {
			names[i] = opt.SignalName
			if opt.Condition != "" {
				lines = append(lines, fmt.Sprintf("- %s: %s", opt.SignalName, opt.Condition))
			} else {
				lines = append(lines, "- "+opt.SignalName)
			}
		}
		properties[selectedSignalsField] = map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string", "enum": names},
			"description": "Select every signal that applies:\n" + strings.Join(lines, "\n"),
		}
		required = append(required, selectedSignalsField)
	}

	c.schema = map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
	return c
}

// Schema returns the contract as a JSON Schema document.
func (c *Contract) Schema() map[string]any {
	return c.schema
}

// Instructions renders the format instructions appended to the prompt.
func (c *Contract) Instructions() string {
	return schemaInstructions(c.schema)
}

// responseName returns the property holding the primary response value.
func (c *Contract) responseName() string {
	if c.OutputField != "" {
		return c.OutputField
	}
	return outputFieldFallback
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/soehq/soe/pkg/models"
)

// Response is a parsed, contract-valid model reply.
type Response struct {
	// Output is the primary response value (the output_field property, or
	// "output" when none is configured).
	Output any
	// SelectedSignals holds the model's signal selection, nil when the
	// contract had no selection extension.
	SelectedSignals []string
	// Raw is the full decoded response object.
	Raw map[string]any
}

// Resolve runs the call-parse-validate loop: render instructions, call the
// model, parse the reply against the contract, and retry with repair
// instructions appended on unparseable output. onCall fires once per model
// invocation so the dispatcher can account llm_calls. retries is the number
// of attempts beyond the first.
func Resolve(
	ctx context.Context,
	call CallFunc,
	prompt string,
	node *models.NodeConfig,
	contract *Contract,
	retries int,
	onCall func(),
) (*Response, error) {
	raw, err := ResolveRaw(ctx, call, prompt, node, contract.Schema(), retries, onCall)
	if err != nil {
		return nil, err
	}

	response := &Response{Output: raw[contract.responseName()], Raw: raw}
	if contract.SignalSelection {
		response.SelectedSignals = []string{}
		if sel, ok := raw[selectedSignalsField].([]any); ok {
			for _, s := range sel {
				if name, ok := s.(string); ok {
					response.SelectedSignals = append(response.SelectedSignals, name)
				}
			}
		}
	}
	return response, nil
}

// ResolveRaw is Resolve against an arbitrary JSON Schema, returning the
// decoded object. The agent turn loop uses it for its action contracts.
func ResolveRaw(
	ctx context.Context,
	call CallFunc,
	prompt string,
	node *models.NodeConfig,
	schema map[string]any,
	retries int,
	onCall func(),
) (map[string]any, error) {
	currentPrompt := prompt + "\n\n" + schemaInstructions(schema)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if onCall != nil {
			onCall()
		}
		responseText, err := call(ctx, currentPrompt, node)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		raw, parseErr := parseRaw(responseText, schema)
		if parseErr == nil {
			return raw, nil
		}
		lastErr = parseErr
		currentPrompt += fmt.Sprintf(
			"\n\nPrevious response: %s\n\n%s\n\nRespond with valid JSON.",
			responseText, parseErr.Error(),
		)
	}

	return nil, fmt.Errorf("max retries (%d) exceeded, last error: %w", retries, lastErr)
}

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*([\\[{].*?[\\]}])\\s*```")

// parseRaw extracts JSON from raw model text and validates it against a
// JSON Schema.
func parseRaw(text string, schema map[string]any) (map[string]any, error) {
	jsonStr := ExtractJSON(thinkTagPattern.ReplaceAllString(text, ""))

	var raw map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("JSON parse error: %v. Output a single valid JSON object", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %v", err)
	}
	if !result.Valid() {
		var fieldErrors []string
		for _, e := range result.Errors() {
			fieldErrors = append(fieldErrors, fmt.Sprintf("  - %s: %s", e.Field(), e.Description()))
		}
		return nil, fmt.Errorf("validation failed, fix these fields:\n%s", strings.Join(fieldErrors, "\n"))
	}

	return raw, nil
}

func schemaInstructions(schema map[string]any) string {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		schemaJSON = []byte("{}")
	}
	return fmt.Sprintf(
		"Respond ONLY with a valid JSON object matching this schema:\n%s\nDo not return the schema itself. Return a JSON instance of the schema.",
		schemaJSON,
	)
}

// ExtractJSON pulls the first JSON object or array out of model text,
// preferring fenced blocks and balancing braces outside string literals.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}

	for i, r := range text {
		if r == '{' || r == '[' {
			return extractBalanced(text, i)
		}
	}
	return text
}

func extractBalanced(text string, start int) string {
	openChar := text[start]
	var closeChar byte = '}'
	if openChar == '[' {
		closeChar = ']'
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escape:
			escape = false
		case c == '\\':
			escape = true
		case c == '"':
			inString = !inString
		case inString:
		case c == openChar:
			depth++
		case c == closeChar:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}

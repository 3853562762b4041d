package tools

import "fmt"

// asMap coerces a tool argument payload to the mapping shape.
func asMap(args any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	m, ok := args.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be an object, got %T", args)
	}
	return m, nil
}

func stringArg(m map[string]any, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required argument %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}

func boolArg(m map[string]any, key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

func mapArg(m map[string]any, key string) (map[string]any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	out, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an object, got %T", key, v)
	}
	return out, nil
}

func stringListArg(m map[string]any, key string) ([]string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a list, got %T", key, v)
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must contain only strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

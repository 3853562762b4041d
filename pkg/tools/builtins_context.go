package tools

import (
	"context"
	"fmt"

	"github.com/soehq/soe/pkg/models"
)

func registerContextBuiltins(reg *Registry, b Binding) {
	reg.Register(&Tool{
		Name:        "soe_get_context",
		Description: "Read context fields for this execution",
		Parameters: objectSchema(map[string]any{
			"fields": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Field names to read; omit for all fields",
			},
			"include_operational": map[string]any{
				"type":        "boolean",
				"description": "Include the __operational__ namespace",
			},
		}),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			fields, err := stringListArg(m, "fields")
			if err != nil {
				return nil, err
			}

			c, err := b.Contexts.GetContext(ctx, b.ExecutionID)
			if err != nil {
				return nil, err
			}

			var view map[string]any
			if boolArg(m, "include_operational") {
				view = c.OperationalView()
			} else {
				view = c.Snapshot()
			}

			if len(fields) == 0 {
				return map[string]any{"context": view}, nil
			}
			selected := map[string]any{}
			for _, f := range fields {
				if v, ok := view[f]; ok {
					selected[f] = v
				}
			}
			return map[string]any{"context": selected}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_update_context",
		Description: "Write context fields for this execution",
		Parameters: objectSchema(map[string]any{
			"updates": map[string]any{
				"type":        "object",
				"description": "Field names to values; each write appends to the field's history",
			},
		}, "updates"),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			updates, err := mapArg(m, "updates")
			if err != nil {
				return nil, err
			}
			if len(updates) == 0 {
				return map[string]any{"status": "no updates provided"}, nil
			}

			c, err := b.Contexts.GetContext(ctx, b.ExecutionID)
			if err != nil {
				return nil, err
			}

			var updated []string
			for field, value := range updates {
				if models.IsReservedField(field) {
					continue
				}
				if err := c.SetField(field, value); err != nil {
					return nil, err
				}
				updated = append(updated, field)
			}
			if len(updated) == 0 {
				return map[string]any{"status": "no valid updates, operational fields cannot be written"}, nil
			}
			if err := b.Contexts.SaveContext(ctx, b.ExecutionID, c); err != nil {
				return nil, err
			}
			return map[string]any{"status": "updated", "fields": updated}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_copy_context",
		Description: "Copy context fields between executions",
		Parameters: objectSchema(map[string]any{
			"source_execution_id": stringProp("Execution to copy from, defaults to current"),
			"target_execution_id": stringProp("Execution to copy to, defaults to current"),
			"fields": map[string]any{
				"type":        "object",
				"description": "Mapping of source field to target field",
			},
			"all_fields": map[string]any{
				"type":        "boolean",
				"description": "Copy every non-operational field under its own name",
			},
		}),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			sourceID, err := stringArg(m, "source_execution_id", false)
			if err != nil {
				return nil, err
			}
			targetID, err := stringArg(m, "target_execution_id", false)
			if err != nil {
				return nil, err
			}
			fieldMapping, err := mapArg(m, "fields")
			if err != nil {
				return nil, err
			}
			allFields := boolArg(m, "all_fields")

			if sourceID == "" {
				sourceID = b.ExecutionID
			}
			if targetID == "" {
				targetID = b.ExecutionID
			}
			if !allFields && len(fieldMapping) == 0 {
				return nil, fmt.Errorf("must specify either a 'fields' mapping or 'all_fields'")
			}

			source, err := b.Contexts.GetContext(ctx, sourceID)
			if err != nil {
				return nil, err
			}
			target, err := b.Contexts.GetContext(ctx, targetID)
			if err != nil {
				return nil, err
			}

			copied := map[string]any{}
			copyField := func(sourceField, targetField string) error {
				if !source.Has(sourceField) {
					return fmt.Errorf("source field %q not found in execution %s", sourceField, sourceID)
				}
				for _, v := range source.History(sourceField) {
					if err := target.SetField(targetField, v); err != nil {
						return err
					}
				}
				copied[sourceField] = targetField
				return nil
			}

			if allFields {
				for _, field := range source.Fields() {
					if err := copyField(field, field); err != nil {
						return nil, err
					}
				}
			} else {
				for sourceField, targetValue := range fieldMapping {
					targetField, ok := targetValue.(string)
					if !ok {
						return nil, fmt.Errorf("'fields' values must be target field names")
					}
					if err := copyField(sourceField, targetField); err != nil {
						return nil, err
					}
				}
			}

			if err := b.Contexts.SaveContext(ctx, targetID, target); err != nil {
				return nil, err
			}
			return map[string]any{
				"status":           "copied",
				"source_execution": sourceID,
				"target_execution": targetID,
				"fields_copied":    copied,
			}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_list_contexts",
		Description: "List execution ids with stored context",
		Parameters: objectSchema(map[string]any{
			"include_current": map[string]any{
				"type":        "boolean",
				"description": "Include the current execution id, default true",
			},
		}),
		Function: func(ctx context.Context, args any) (any, error) {
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			includeCurrent := true
			if v, ok := m["include_current"].(bool); ok {
				includeCurrent = v
			}

			ids, err := b.Contexts.ListContexts(ctx)
			if err != nil {
				return nil, err
			}
			if !includeCurrent {
				filtered := ids[:0]
				for _, id := range ids {
					if id != b.ExecutionID {
						filtered = append(filtered, id)
					}
				}
				ids = filtered
			}
			return map[string]any{"executions": ids, "count": len(ids)}, nil
		},
	})
}

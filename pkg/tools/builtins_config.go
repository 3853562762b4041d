package tools

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/soehq/soe/pkg/models"
)

func registerIdentityBuiltins(reg *Registry, b Binding) {
	reg.Register(&Tool{
		Name:        "soe_get_identities",
		Description: "Read the identity definitions shared by this orchestration tree",
		Function: func(ctx context.Context, _ any) (any, error) {
			if b.Backends.Identity == nil {
				return nil, fmt.Errorf("no identity backend configured")
			}
			identities, err := b.Backends.Identity.GetIdentities(ctx, b.MainExecutionID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"identities": identities}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_inject_identity",
		Description: "Add or replace an identity definition",
		Parameters: objectSchema(map[string]any{
			"identity_name": stringProp("Name of the identity"),
			"system_prompt": stringProp("System prompt text"),
		}, "identity_name", "system_prompt"),
		Function: func(ctx context.Context, args any) (any, error) {
			if b.Backends.Identity == nil {
				return nil, fmt.Errorf("no identity backend configured")
			}
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			name, err := stringArg(m, "identity_name", true)
			if err != nil {
				return nil, err
			}
			prompt, err := stringArg(m, "system_prompt", true)
			if err != nil {
				return nil, err
			}

			identities, err := b.Backends.Identity.GetIdentities(ctx, b.MainExecutionID)
			if err != nil {
				return nil, err
			}
			if identities == nil {
				identities = models.Identities{}
			}
			identities[name] = prompt
			if err := b.Backends.Identity.SaveIdentities(ctx, b.MainExecutionID, identities); err != nil {
				return nil, err
			}
			return map[string]any{"status": "injected", "identity_name": name}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_remove_identity",
		Description: "Remove an identity definition",
		Parameters: objectSchema(map[string]any{
			"identity_name": stringProp("Name of the identity to remove"),
		}, "identity_name"),
		Function: func(ctx context.Context, args any) (any, error) {
			if b.Backends.Identity == nil {
				return nil, fmt.Errorf("no identity backend configured")
			}
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			name, err := stringArg(m, "identity_name", true)
			if err != nil {
				return nil, err
			}

			identities, err := b.Backends.Identity.GetIdentities(ctx, b.MainExecutionID)
			if err != nil {
				return nil, err
			}
			if _, ok := identities[name]; !ok {
				return nil, fmt.Errorf("identity %q not found", name)
			}
			delete(identities, name)
			if err := b.Backends.Identity.SaveIdentities(ctx, b.MainExecutionID, identities); err != nil {
				return nil, err
			}
			return map[string]any{"status": "removed", "identity_name": name}, nil
		},
	})
}

func registerSchemaBuiltins(reg *Registry, b Binding) {
	reg.Register(&Tool{
		Name:        "soe_get_context_schema",
		Description: "Read the context field schema shared by this orchestration tree",
		Function: func(ctx context.Context, _ any) (any, error) {
			if b.Backends.Schema == nil {
				return nil, fmt.Errorf("no context schema backend configured")
			}
			schema, err := b.Backends.Schema.GetContextSchema(ctx, b.MainExecutionID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"context_schema": schema}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_inject_context_schema_field",
		Description: "Add or replace a context schema field",
		Parameters: objectSchema(map[string]any{
			"field_name":   stringProp("Name of the context field"),
			"field_schema": stringProp("YAML or JSON schema entry with type and description"),
		}, "field_name", "field_schema"),
		Function: func(ctx context.Context, args any) (any, error) {
			if b.Backends.Schema == nil {
				return nil, fmt.Errorf("no context schema backend configured")
			}
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			fieldName, err := stringArg(m, "field_name", true)
			if err != nil {
				return nil, err
			}
			data, err := stringArg(m, "field_schema", true)
			if err != nil {
				return nil, err
			}

			entry := &models.SchemaEntry{}
			if err := yaml.Unmarshal([]byte(data), entry); err != nil {
				return nil, fmt.Errorf("parse field schema: %w", err)
			}
			if entry.Type == "" {
				return nil, fmt.Errorf("field schema must declare a type")
			}

			schema, err := b.Backends.Schema.GetContextSchema(ctx, b.MainExecutionID)
			if err != nil {
				return nil, err
			}
			if schema == nil {
				schema = models.FieldSchema{}
			}
			schema[fieldName] = entry
			if err := b.Backends.Schema.SaveContextSchema(ctx, b.MainExecutionID, schema); err != nil {
				return nil, err
			}
			return map[string]any{"status": "injected", "field_name": fieldName}, nil
		},
	})

	reg.Register(&Tool{
		Name:        "soe_remove_context_schema_field",
		Description: "Remove a context schema field",
		Parameters: objectSchema(map[string]any{
			"field_name": stringProp("Name of the field to remove"),
		}, "field_name"),
		Function: func(ctx context.Context, args any) (any, error) {
			if b.Backends.Schema == nil {
				return nil, fmt.Errorf("no context schema backend configured")
			}
			m, err := asMap(args)
			if err != nil {
				return nil, err
			}
			fieldName, err := stringArg(m, "field_name", true)
			if err != nil {
				return nil, err
			}

			schema, err := b.Backends.Schema.GetContextSchema(ctx, b.MainExecutionID)
			if err != nil {
				return nil, err
			}
			if _, ok := schema[fieldName]; !ok {
				return nil, fmt.Errorf("schema field %q not found", fieldName)
			}
			delete(schema, fieldName)
			if err := b.Backends.Schema.SaveContextSchema(ctx, b.MainExecutionID, schema); err != nil {
				return nil, err
			}
			return map[string]any{"status": "removed", "field_name": fieldName}, nil
		},
	})
}

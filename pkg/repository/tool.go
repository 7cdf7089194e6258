package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/ent/tool"
)

func (r *entRepository) ListAgentTools(ctx context.Context, agentID string) ([]*ent.Tool, error) {
	tools, err := r.client.Tool.Query().
		Where(tool.AgentIDEQ(agentID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent tools: %w", err)
	}
	return tools, nil
}

// ListAllTools returns every tool across every agent, for the system
// warnings scan.
func (r *entRepository) ListAllTools(ctx context.Context) ([]*ent.Tool, error) {
	tools, err := r.client.Tool.Query().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list all tools: %w", err)
	}
	return tools, nil
}

func (r *entRepository) GetAgentTool(ctx context.Context, agentID, name string) (*ent.Tool, error) {
	t, err := r.client.Tool.Query().
		Where(tool.AgentIDEQ(agentID), tool.NameEQ(name)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent tool: %w", err)
	}
	return t, nil
}

// UpsertTool creates the tool on first sight and otherwise returns the
// existing row untouched — re-declaring a tool must never silently change
// its trust defaults.
func (r *entRepository) UpsertTool(ctx context.Context, decl ToolDeclaration) (*ent.Tool, error) {
	if decl.AgentID == "" {
		return nil, NewValidationError("agent_id", "required")
	}
	if decl.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if decl.Parameters != nil {
		if err := validateSchemaDocument(decl.Parameters); err != nil {
			return nil, NewValidationError("parameters", fmt.Sprintf("not a valid JSON Schema document: %s", err))
		}
	}

	existing, err := r.GetAgentTool(ctx, decl.AgentID, decl.Name)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	builder := r.client.Tool.Create().
		SetID(uuid.New().String()).
		SetAgentID(decl.AgentID).
		SetName(decl.Name).
		SetAllowUsageWhenUntrustedDataIsPresent(decl.AllowUsageWhenUntrustedDataIsPresent).
		SetDataIsTrustedByDefault(decl.DataIsTrustedByDefault)
	if decl.Description != "" {
		builder = builder.SetDescription(decl.Description)
	}
	if decl.Parameters != nil {
		builder = builder.SetParameters(decl.Parameters)
	}
	if decl.Endpoint != "" {
		builder = builder.SetEndpoint(decl.Endpoint)
	}

	created, err := builder.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return r.GetAgentTool(ctx, decl.AgentID, decl.Name)
		}
		return nil, fmt.Errorf("failed to create tool: %w", err)
	}
	return created, nil
}

// validateSchemaDocument compiles schemaDoc as a standalone JSON Schema
// document, rejecting a tool declaration whose parameters could never
// successfully validate any call's arguments.
func validateSchemaDocument(schemaDoc map[string]interface{}) error {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool-parameters.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	_, err := c.Compile("tool-parameters.json")
	return err
}

package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ToolInvocationPolicy holds the schema definition for the
// ToolInvocationPolicy entity, evaluated after the primary model proposes a
// tool call.
type ToolInvocationPolicy struct {
	ent.Schema
}

// Fields of the ToolInvocationPolicy.
func (ToolInvocationPolicy) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.String("tool_name").
			NotEmpty(),
		field.String("condition").
			Optional(),
		field.Enum("action").
			Values("require_trusted_context", "block_always"),
		field.String("description").
			Optional(),
	}
}

// Edges of the ToolInvocationPolicy.
func (ToolInvocationPolicy) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("invocation_policies").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the ToolInvocationPolicy.
func (ToolInvocationPolicy) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "tool_name"),
	}
}

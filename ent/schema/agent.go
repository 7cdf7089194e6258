package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Agent holds the schema definition for the Agent entity: the unit of
// policy scoping. An agent owns zero or more prompts and tools.
type Agent struct {
	ent.Schema
}

// Fields of the Agent.
func (Agent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("name").
			NotEmpty(),
		field.JSON("labels", map[string]string{}).
			Optional().
			Comment("Key/value pairs, always returned sorted by key"),
		field.JSON("team_ids", []string{}).
			Optional(),
	}
}

// Edges of the Agent.
func (Agent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("prompts", AgentPrompt.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("tools", Tool.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("trusted_data_policies", AgentTrustedDataPolicy.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("invocation_policies", ToolInvocationPolicy.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("interactions", Interaction.Type),
	}
}

// Indexes of the Agent.
func (Agent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("name"),
	}
}

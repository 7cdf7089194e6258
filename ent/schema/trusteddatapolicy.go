package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// TrustedDataPolicy holds the schema definition for the TrustedDataPolicy
// entity. Agents opt in to a policy via AgentTrustedDataPolicy.
type TrustedDataPolicy struct {
	ent.Schema
}

// Fields of the TrustedDataPolicy.
func (TrustedDataPolicy) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("tool_id").
			Immutable(),
		field.String("attribute_path").
			NotEmpty().
			Comment("Dot-separated path, e.g. emails[*].from"),
		field.Enum("operator").
			Values("equal", "notEqual", "contains", "notContains", "startsWith", "endsWith", "greaterThan", "lessThan"),
		field.String("value"),
		field.Enum("action").
			Values("mark_as_trusted", "block_always"),
		field.String("description").
			Optional(),
	}
}

// Edges of the TrustedDataPolicy.
func (TrustedDataPolicy) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("tool", Tool.Type).
			Ref("trusted_data_policies").
			Field("tool_id").
			Unique().
			Required().
			Immutable(),
		edge.To("agent_policies", AgentTrustedDataPolicy.Type),
	}
}

// Indexes of the TrustedDataPolicy.
func (TrustedDataPolicy) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("tool_id", "action"),
	}
}

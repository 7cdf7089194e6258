package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AgentTrustedDataPolicy holds the schema definition for the opt-in join
// between an Agent and a TrustedDataPolicy.
type AgentTrustedDataPolicy struct {
	ent.Schema
}

// Fields of the AgentTrustedDataPolicy.
func (AgentTrustedDataPolicy) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.String("policy_id").
			Immutable(),
	}
}

// Edges of the AgentTrustedDataPolicy.
func (AgentTrustedDataPolicy) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("trusted_data_policies").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
		edge.From("policy", TrustedDataPolicy.Type).
			Ref("agent_policies").
			Field("policy_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the AgentTrustedDataPolicy.
func (AgentTrustedDataPolicy) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "policy_id").
			Unique(),
	}
}

package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AgentPrompt holds the schema definition for the AgentPrompt join entity.
// Replacing an agent's prompt set is an atomic delete-then-insert at the
// application layer; order 0 is reserved for the system prompt.
type AgentPrompt struct {
	ent.Schema
}

// Fields of the AgentPrompt.
func (AgentPrompt) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.String("prompt_id").
			Immutable(),
		field.Int("order"),
	}
}

// Edges of the AgentPrompt.
func (AgentPrompt) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("prompts").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
		edge.From("prompt", Prompt.Type).
			Field("prompt_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the AgentPrompt.
func (AgentPrompt) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "prompt_id").
			Unique(),
		index.Fields("agent_id", "order"),
	}
}

package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Interaction holds the schema definition for the Interaction entity: the
// atomic unit of audit. Created exactly once per completed proxy request
// (including refusals); never mutated afterward.
type Interaction struct {
	ent.Schema
}

// Fields of the Interaction.
func (Interaction) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.String("chat_id").
			Optional().
			Nillable().
			Immutable(),
		field.Enum("type").
			Values("anthropic", "openai", "anthropic:refusal", "openai:refusal", "tool_result").
			Immutable(),
		field.JSON("request", map[string]interface{}{}).
			Immutable().
			Comment("Original inbound request body"),
		field.JSON("response", map[string]interface{}{}).
			Optional().
			Comment("Final response body, provider-native shape"),
		field.Int("input_tokens").
			Optional().
			Nillable(),
		field.Int("output_tokens").
			Optional().
			Nillable(),
		field.JSON("content", map[string]interface{}{}).
			Optional().
			Comment("Role-tagged envelope matching the OpenAI message shape"),
		field.Bool("trusted").
			Optional().
			Nillable().
			Comment("Set for tool-result interactions by the trust engine"),
		field.Bool("blocked").
			Optional().
			Nillable(),
		field.String("reason").
			Optional(),
		field.Int("duration_ms").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("deleted_at").
			Optional().
			Nillable().
			Comment("Set by the retention sweep once the interaction ages past the configured window. Rows are never hard-deleted: audit history must survive even past its active retention period."),
	}
}

// Edges of the Interaction.
func (Interaction) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("interactions").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
		edge.From("chat", Chat.Type).
			Ref("interactions").
			Field("chat_id").
			Unique().
			Immutable(),
	}
}

// Indexes of the Interaction.
func (Interaction) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("chat_id", "created_at"),
		index.Fields("agent_id", "created_at"),
		index.Fields("deleted_at").
			Annotations(entsql.IndexWhere("deleted_at IS NOT NULL")),
	}
}

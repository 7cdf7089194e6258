package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Tool holds the schema definition for the Tool entity: a named capability
// the model may invoke, backed by an MCP endpoint. Tools are upserted by
// (agentId, name); re-declaring an existing tool does not change its trust
// defaults.
type Tool struct {
	ent.Schema
}

// Fields of the Tool.
func (Tool) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.String("name").
			NotEmpty(),
		field.Text("description").
			Optional(),
		field.JSON("parameters", map[string]interface{}{}).
			Optional().
			Comment("JSON Schema for the tool's arguments"),
		field.Bool("allow_usage_when_untrusted_data_is_present").
			Default(false),
		field.Bool("data_is_trusted_by_default").
			Default(false),
		field.String("endpoint").
			Optional().
			Comment("MCP endpoint backing this tool"),
	}
}

// Edges of the Tool.
func (Tool) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("tools").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
		edge.To("trusted_data_policies", TrustedDataPolicy.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Tool.
func (Tool) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "name").
			Unique(),
	}
}

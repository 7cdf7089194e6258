package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Prompt holds the schema definition for the Prompt entity. Updating a
// prompt deactivates the current row and inserts a new one with
// version+1 and parentPromptId = old.id — rows are otherwise immutable
// once superseded.
type Prompt struct {
	ent.Schema
}

// Fields of the Prompt.
func (Prompt) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("org_id").
			Immutable(),
		field.String("name").
			Immutable().
			NotEmpty(),
		field.Enum("type").
			Values("system", "regular").
			Immutable(),
		field.Text("content"),
		field.Int("version").
			Immutable().
			Default(1),
		field.String("parent_prompt_id").
			Optional().
			Nillable().
			Immutable(),
		field.Bool("is_active").
			Default(true),
		field.String("created_by"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Prompt.
func (Prompt) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("organization", Organization.Type).
			Ref("prompts").
			Field("org_id").
			Unique().
			Required().
			Immutable(),
		edge.To("agent_prompts", AgentPrompt.Type),
	}
}

// Indexes of the Prompt.
func (Prompt) Indexes() []ent.Index {
	return []ent.Index{
		// Invariant: exactly one isActive=true row per (orgId, name, type).
		// Enforced at the application layer (version insert is transactional);
		// this index makes the "current active row" lookup fast.
		index.Fields("org_id", "name", "type", "is_active"),
		index.Fields("parent_prompt_id"),
	}
}

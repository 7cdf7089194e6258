package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Limit holds the schema definition for the Limit entity: a token-cost
// quota scoped to an organization, team, or agent. Mutated only by the
// quota subsystem (increment and reset).
type Limit struct {
	ent.Schema
}

// Fields of the Limit.
func (Limit) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.Enum("entity_type").
			Values("organization", "team", "agent").
			Immutable(),
		field.String("entity_id").
			Immutable(),
		field.String("limit_type").
			Default("token_cost").
			Immutable(),
		field.String("model").
			Optional().
			Comment("When set, limitValue is in dollars via TokenPrice; otherwise raw tokens"),
		field.Float("limit_value"),
		field.Int64("current_usage_tokens_in").
			Default(0),
		field.Int64("current_usage_tokens_out").
			Default(0),
		field.Time("last_cleanup").
			Optional().
			Nillable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.String("org_id").
			Optional().
			Nillable().
			Immutable().
			Comment("Links to the owning Organization for cleanup-interval resolution and reset sweeps. Required for every entity_type, not just organization: a team- or agent-scope limit must still name the organization that governs its sweep cadence."),
	}
}

// Edges of the Limit.
func (Limit) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("organization", Organization.Type).
			Ref("limits").
			Field("org_id").
			Unique().
			Immutable(),
	}
}

// Indexes of the Limit.
func (Limit) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("entity_type", "entity_id", "limit_type"),
	}
}

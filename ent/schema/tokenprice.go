package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
)

// TokenPrice holds the schema definition for the TokenPrice entity, used to
// translate accumulated tokens to dollars when a Limit carries a model.
type TokenPrice struct {
	ent.Schema
}

// Fields of the TokenPrice.
func (TokenPrice) Fields() []ent.Field {
	return []ent.Field{
		field.String("model").
			Unique().
			Immutable(),
		field.Float("price_per_million_input"),
		field.Float("price_per_million_output"),
	}
}

package repository

import (
	"github.com/codeready-toolchain/gateway/ent"
)

// entRepository implements Repository on top of a generated ent client.
type entRepository struct {
	client *ent.Client
}

// New wraps client in the narrow Repository surface the core consumes.
func New(client *ent.Client) Repository {
	return &entRepository{client: client}
}

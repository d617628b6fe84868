// Package authz carries the caller identity resolved once per request.
package authz

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/models"
)

type Context struct {
	CallerID primitive.ObjectID
	Role     string
}

func Admin(id primitive.ObjectID) Context {
	return Context{CallerID: id, Role: models.RoleAdmin}
}

func Donor(id primitive.ObjectID) Context {
	return Context{CallerID: id, Role: models.RoleDonor}
}

func (c Context) Authenticated() bool { return !c.CallerID.IsZero() }

func (c Context) IsAdmin() bool {
	return c.Authenticated() && c.Role == models.RoleAdmin
}

// IsOwnerOf reports whether the caller is the owner recorded on a resource.
// A nil owner (anonymous resource) is owned by nobody.
func (c Context) IsOwnerOf(ownerID *primitive.ObjectID) bool {
	return c.Authenticated() && ownerID != nil && *ownerID == c.CallerID
}

// AdminID returns a pointer suitable for the reviewer fields.
func (c Context) AdminID() *primitive.ObjectID {
	id := c.CallerID
	return &id
}

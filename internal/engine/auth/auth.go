package auth

import (
	"fmt"

	"memtech/internal/domain"
)

type Capability string

const (
	AssignRoles      Capability = "ASSIGN_ROLES"
	EditDocument     Capability = "EDIT_DOCUMENT"
	ReviewDocument   Capability = "REVIEW_DOCUMENT"
	ValidateDocument Capability = "VALIDATE_DOCUMENT"
	ViewHistory      Capability = "VIEW_HISTORY"
)

// Capabilities lists every capability known to the gate.
var Capabilities = []Capability{AssignRoles, EditDocument, ReviewDocument, ValidateDocument, ViewHistory}

var rolePermissions = map[domain.Role]map[Capability]bool{
	domain.RoleAdmin: {
		AssignRoles:      true,
		EditDocument:     true,
		ReviewDocument:   true,
		ValidateDocument: true,
		ViewHistory:      true,
	},
	domain.RoleWriter: {
		EditDocument: true,
		ViewHistory:  true,
	},
	domain.RoleReviewer: {
		ReviewDocument:   true,
		ValidateDocument: true,
		ViewHistory:      true,
	},
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Actor is the authenticated principal acting on the workflow. The zero value is anonymous.
type Actor struct {
	UserID string
	Role   domain.Role
}

func (a Actor) Authenticated() bool {
	return a.UserID != "" && a.Role.Valid()
}

func (a Actor) IsAdmin() bool {
	return a.Authenticated() && a.Role == domain.RoleAdmin
}

// Authorize reports whether the actor holds the capability.
func Authorize(a Actor, c Capability) bool {
	if !a.Authenticated() {
		return false
	}
	if a.Role == domain.RoleAdmin {
		return true
	}
	return rolePermissions[a.Role][c]
}

// Require returns a ForbiddenError when Authorize denies.
func Require(a Actor, c Capability) error {
	if !Authorize(a, c) {
		return ForbiddenError{Permission: string(c)}
	}
	return nil
}

// RequireAuthenticated rejects anonymous actors.
func RequireAuthenticated(a Actor) error {
	if !a.Authenticated() {
		return ForbiddenError{Permission: "AUTHENTICATED"}
	}
	return nil
}

// CapabilityForStatus returns the capability needed to move a document into s.
func CapabilityForStatus(s domain.DocumentStatus) Capability {
	switch s {
	case domain.StatusReview1, domain.StatusReview2:
		return ReviewDocument
	case domain.StatusValidation, domain.StatusApproved:
		return ValidateDocument
	default:
		return EditDocument
	}
}

// CapabilitiesFor lists what a role may do, in table order.
func CapabilitiesFor(r domain.Role) []Capability {
	var out []Capability
	for _, c := range Capabilities {
		if Authorize(Actor{UserID: "any", Role: r}, c) {
			out = append(out, c)
		}
	}
	return out
}

package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"memtech/internal/domain"
)

func TestAuthorizeTable(t *testing.T) {
	writer := Actor{UserID: "w", Role: domain.RoleWriter}
	reviewer := Actor{UserID: "r", Role: domain.RoleReviewer}
	admin := Actor{UserID: "a", Role: domain.RoleAdmin}

	cases := []struct {
		actor Actor
		cap   Capability
		want  bool
	}{
		{writer, AssignRoles, false},
		{writer, EditDocument, true},
		{writer, ReviewDocument, false},
		{writer, ValidateDocument, false},
		{writer, ViewHistory, true},
		{reviewer, AssignRoles, false},
		{reviewer, EditDocument, false},
		{reviewer, ReviewDocument, true},
		{reviewer, ValidateDocument, true},
		{reviewer, ViewHistory, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Authorize(tc.actor, tc.cap), "%s/%s", tc.actor.Role, tc.cap)
	}
	for _, c := range Capabilities {
		assert.True(t, Authorize(admin, c), c)
	}
}

func TestAnonymousAlwaysDenied(t *testing.T) {
	for _, c := range Capabilities {
		assert.False(t, Authorize(Actor{}, c), c)
		assert.False(t, Authorize(Actor{Role: domain.RoleAdmin}, c), c)
		assert.False(t, Authorize(Actor{UserID: "x", Role: "GUEST"}, c), c)
	}
}

func TestRequire(t *testing.T) {
	err := Require(Actor{UserID: "w", Role: domain.RoleWriter}, ValidateDocument)
	var fe ForbiddenError
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, "VALIDATE_DOCUMENT", fe.Permission)
	assert.NoError(t, Require(Actor{UserID: "r", Role: domain.RoleReviewer}, ValidateDocument))
}

func TestCapabilityForStatus(t *testing.T) {
	assert.Equal(t, EditDocument, CapabilityForStatus(domain.StatusDraft))
	assert.Equal(t, EditDocument, CapabilityForStatus(domain.StatusCorrection))
	assert.Equal(t, ReviewDocument, CapabilityForStatus(domain.StatusReview1))
	assert.Equal(t, ReviewDocument, CapabilityForStatus(domain.StatusReview2))
	assert.Equal(t, ValidateDocument, CapabilityForStatus(domain.StatusValidation))
	assert.Equal(t, ValidateDocument, CapabilityForStatus(domain.StatusApproved))
}

func TestCapabilitiesFor(t *testing.T) {
	assert.Equal(t, []Capability{EditDocument, ViewHistory}, CapabilitiesFor(domain.RoleWriter))
	assert.Len(t, CapabilitiesFor(domain.RoleAdmin), len(Capabilities))
}

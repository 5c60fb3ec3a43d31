package auth

import (
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetailsMatchesSentinel(t *testing.T) {
	err := withDetails(ErrDuplicateGrant, map[string]any{"grant_id": "g-1"})

	assert.ErrorIs(t, err, ErrDuplicateGrant)
	assert.Equal(t, ErrDuplicateGrant.Error(), err.Error())

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, "g-1", rich.Metadata["grant_id"])
	assert.Equal(t, TextCodeDuplicateGrant, rich.TextCode)

	// the shared sentinel is never mutated
	assert.NotContains(t, ErrDuplicateGrant.Metadata, "grant_id")
}

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		identity   bool
		authz      bool
		workflow   bool
		notFound   bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("plain")},
		{name: "station required", err: ErrStationRequired, validation: true},
		{name: "detailed duplicate", err: withDetails(ErrRequestResolved, nil), validation: true},
		{name: "invalid credentials", err: ErrInvalidCredentials, identity: true},
		{name: "forbidden", err: ErrForbidden, authz: true},
		{name: "signup disabled", err: ErrSignupDisabled, authz: true},
		{name: "not found", err: ErrGrantNotFound, notFound: true},
		{name: "wrapped not found", err: fmt.Errorf("lookup: %w", ErrStationNotFound), notFound: true},
		{
			name: "workflow",
			err: goerrors.New("station approval failed", goerrors.CategoryOperation).
				WithTextCode(TextCodeApprovalFailed),
			workflow: true,
		},
		{name: "other operation", err: goerrors.New("hook failed", goerrors.CategoryOperation)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidationError(tt.err))
			assert.Equal(t, tt.identity, IsIdentityError(tt.err))
			assert.Equal(t, tt.authz, IsAuthzError(tt.err))
			assert.Equal(t, tt.workflow, IsWorkflowError(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
		})
	}
}

func TestAsIdentityError(t *testing.T) {
	assert.Same(t, ErrInvalidCredentials, asIdentityError(ErrInvalidCredentials, "sign in failed"))

	err := asIdentityError(errors.New("provider timeout"), "sign in failed")
	assert.True(t, IsIdentityError(err))
}

func TestAsValidationError(t *testing.T) {
	err := asValidationError(Credentials{Email: "nope"}.Validate(), "invalid payload")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	fields, ok := rich.Metadata["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")

	assert.NoError(t, asValidationError(nil, "unused"))
}

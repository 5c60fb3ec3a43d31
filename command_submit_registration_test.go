package auth_test

import (
	"context"
	"testing"

	auth "github.com/evprediag/go-station-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSubmission() auth.SubmitRegistrationMessage {
	return auth.SubmitRegistrationMessage{
		CompanyName:       "  Greenline Charging ",
		ContactEmail:      " Owner@Greenline.TEST ",
		ContactPersonName: "Gale Green",
		Phone:             "+1 555 0199",
		Address:           "77 Grid Street",
	}
}

func TestSubmitRegistrationStoresPendingRequest(t *testing.T) {
	repo := newTestRepo(t)
	sink := &recordingSink{}
	handler := auth.NewSubmitRegistrationHandler(repo).
		WithActivitySink(sink).
		WithLogger(auth.NopLogger())

	stored, err := handler.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationPending, stored.Status)
	assert.Equal(t, "Greenline Charging", stored.CompanyName)
	assert.Equal(t, "owner@greenline.test", stored.ContactEmail)

	got, err := repo.Registrations().Get(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationPending, got.Status)
	assert.Nil(t, got.ApprovedBy)

	require.Len(t, sink.events, 1)
	assert.Equal(t, auth.ActivityEventRegistrationSubmitted, sink.events[0].EventType)
	assert.Equal(t, "system", sink.events[0].Actor.Type)
}

func TestSubmitRegistrationValidation(t *testing.T) {
	repo := newTestRepo(t)
	handler := auth.NewSubmitRegistrationHandler(repo).WithLogger(auth.NopLogger())

	msg := validSubmission()
	msg.ContactEmail = "not-an-email"
	msg.CompanyName = " "

	err := handler.Execute(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, auth.IsValidationError(err))

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	fields, ok := rich.Metadata["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "contact_email")
	assert.Contains(t, fields, "company_name")

	all, err := repo.Registrations().List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmitRegistrationFeatureGate(t *testing.T) {
	repo := newTestRepo(t)
	stub := &stubFeatureGate{enabled: map[string]bool{auth.FeatureStationRegistration: false}}
	handler := auth.NewSubmitRegistrationHandler(repo).
		WithFeatureGate(stub).
		WithLogger(auth.NopLogger())

	err := handler.Execute(context.Background(), validSubmission())
	require.ErrorIs(t, err, auth.ErrRegistrationDisabled)
	assert.Equal(t, []string{auth.FeatureStationRegistration}, stub.calls)

	stub.enabled[auth.FeatureStationRegistration] = true
	require.NoError(t, handler.Execute(context.Background(), validSubmission()))
}

func TestSubmitRegistrationCancelledContext(t *testing.T) {
	handler := auth.NewSubmitRegistrationHandler(newTestRepo(t)).WithLogger(auth.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler.Execute(ctx, validSubmission())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "station.registration.submit", auth.SubmitRegistrationMessage{}.Type())
}

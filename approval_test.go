package auth_test

import (
	"context"
	"errors"
	"testing"

	auth "github.com/evprediag/go-station-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	sent []auth.StationAdminCredentials
	err  error
}

func (n *recordingNotifier) NotifyStationAdmin(_ context.Context, creds auth.StationAdminCredentials) error {
	n.sent = append(n.sent, creds)
	return n.err
}

type approvalFixture struct {
	repo       auth.RepositoryManager
	identities *fakeIdentities
	sink       *recordingSink
	notifier   *recordingNotifier
	metrics    *auth.Metrics
	workflow   *auth.ApprovalWorkflow
}

func newApprovalFixture(t *testing.T, repo auth.RepositoryManager) *approvalFixture {
	t.Helper()
	if repo == nil {
		repo = newTestRepo(t)
	}
	f := &approvalFixture{
		repo:       repo,
		identities: newFakeIdentities(),
		sink:       &recordingSink{},
		notifier:   &recordingNotifier{},
		metrics:    auth.NewMetrics(prometheus.NewRegistry()),
	}
	f.workflow = auth.NewApprovalWorkflow(repo, f.identities,
		auth.WithApprovalLogger(auth.NopLogger()),
		auth.WithApprovalActivitySink(f.sink),
		auth.WithApprovalMetrics(f.metrics),
		auth.WithCredentialsNotifier(f.notifier),
		auth.WithPasswordGenerator(func() (string, error) { return "Temp0raryPassw0rd", nil }),
	)
	return f
}

func (f *approvalFixture) submit(t *testing.T, company string) *auth.RegistrationRequest {
	t.Helper()
	req, err := f.repo.Registrations().Insert(context.Background(), &auth.RegistrationRequest{
		CompanyName:       company,
		ContactEmail:      "owner@" + company + ".test",
		ContactPersonName: "Station Owner",
		Phone:             "+1 555 0100",
		Address:           "1 Charging Way",
	})
	require.NoError(t, err)
	return req
}

func TestAssignRole(t *testing.T) {
	f := newApprovalFixture(t, nil)
	root := superAdmin()
	userID := uuid.New()
	stationID := uuid.New()

	grant, err := f.workflow.AssignRole(context.Background(), root, userID, auth.RoleTechnician, &stationID)
	require.NoError(t, err)
	require.NotNil(t, grant.AssignedBy)
	assert.Equal(t, root.UserID, *grant.AssignedBy)
	assert.NotNil(t, grant.AssignedAt)

	grants, err := f.repo.Roles().ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, auth.RoleTechnician, grants[0].Role)
	assert.Equal(t, stationID, *grants[0].StationID)

	assert.Contains(t, f.sink.types(), auth.ActivityEventRoleAssigned)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Approvals.WithLabelValues("assign_role", "ok")))
}

func TestAssignRoleStationAdminWithoutStation(t *testing.T) {
	f := newApprovalFixture(t, nil)

	grant, err := f.workflow.AssignRole(context.Background(), superAdmin(), uuid.New(), auth.RoleStationAdmin, nil)
	require.NoError(t, err)
	assert.Nil(t, grant.StationID)
	assert.False(t, grant.IsProvisional())
}

func TestAssignRoleValidation(t *testing.T) {
	f := newApprovalFixture(t, nil)
	root := superAdmin()
	userID := uuid.New()

	_, err := f.workflow.AssignRole(context.Background(), root, userID, auth.RoleTechnician, nil)
	require.ErrorIs(t, err, auth.ErrStationRequired)
	assert.True(t, auth.IsValidationError(err))

	_, err = f.workflow.AssignRole(context.Background(), root, userID, auth.RoleFrontDesk, ptr(uuid.Nil))
	require.ErrorIs(t, err, auth.ErrStationRequired)

	_, err = f.workflow.AssignRole(context.Background(), root, userID, auth.Role("janitor"), ptr(uuid.New()))
	require.ErrorIs(t, err, auth.ErrInvalidRole)

	_, err = f.workflow.AssignRole(context.Background(), root, uuid.Nil, auth.RoleSuperAdmin, nil)
	require.ErrorIs(t, err, auth.ErrInvalidRole)

	grants, err := f.repo.Roles().ListByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestAssignRoleValidatesBeforeAuthorizing(t *testing.T) {
	f := newApprovalFixture(t, nil)
	tech := auth.NewPrincipal(auth.Identity{ID: uuid.New()}, []auth.RoleGrant{
		{Role: auth.RoleTechnician, StationID: ptr(uuid.New())},
	})

	_, err := f.workflow.AssignRole(context.Background(), tech, uuid.New(), auth.RoleTechnician, nil)
	require.ErrorIs(t, err, auth.ErrStationRequired)

	_, err = f.workflow.AssignRole(context.Background(), tech, uuid.New(), auth.RoleTechnician, ptr(uuid.New()))
	require.ErrorIs(t, err, auth.ErrForbidden)
	assert.True(t, auth.IsAuthzError(err))
}

func TestAssignRoleDuplicate(t *testing.T) {
	f := newApprovalFixture(t, nil)
	root := superAdmin()
	userID := uuid.New()
	stationID := uuid.New()

	first, err := f.workflow.AssignRole(context.Background(), root, userID, auth.RoleFrontDesk, &stationID)
	require.NoError(t, err)

	_, err = f.workflow.AssignRole(context.Background(), root, userID, auth.RoleFrontDesk, &stationID)
	require.ErrorIs(t, err, auth.ErrDuplicateGrant)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, first.ID.String(), rich.Metadata["grant_id"])

	// same role on another station is a different grant
	_, err = f.workflow.AssignRole(context.Background(), root, userID, auth.RoleFrontDesk, ptr(uuid.New()))
	require.NoError(t, err)
}

func TestAssignRoleByStationAdmin(t *testing.T) {
	f := newApprovalFixture(t, nil)
	stationID := uuid.New()
	admin := stationAdmin(stationID)
	userID := uuid.New()

	_, err := f.workflow.AssignRole(context.Background(), admin, userID, auth.RoleTechnician, &stationID)
	require.NoError(t, err)

	_, err = f.workflow.AssignRole(context.Background(), admin, userID, auth.RoleTechnician, ptr(uuid.New()))
	require.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.workflow.AssignRole(context.Background(), admin, userID, auth.RoleSuperAdmin, nil)
	require.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.workflow.AssignRole(context.Background(), admin, userID, auth.RoleStationAdmin, &stationID)
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestRemoveRole(t *testing.T) {
	f := newApprovalFixture(t, nil)
	stationID := uuid.New()
	admin := stationAdmin(stationID)
	userID := uuid.New()

	grant, err := f.workflow.AssignRole(context.Background(), superAdmin(), userID, auth.RoleAdmin, &stationID)
	require.NoError(t, err)
	other, err := f.workflow.AssignRole(context.Background(), superAdmin(), userID, auth.RoleAdmin, ptr(uuid.New()))
	require.NoError(t, err)

	require.ErrorIs(t, f.workflow.RemoveRole(context.Background(), admin, other.ID), auth.ErrForbidden)
	require.NoError(t, f.workflow.RemoveRole(context.Background(), admin, grant.ID))

	_, err = f.repo.Roles().Get(context.Background(), grant.ID)
	assert.True(t, auth.IsNotFound(err))

	err = f.workflow.RemoveRole(context.Background(), admin, grant.ID)
	assert.True(t, auth.IsNotFound(err))
	assert.Contains(t, f.sink.types(), auth.ActivityEventRoleRemoved)
}

func TestUserRoles(t *testing.T) {
	f := newApprovalFixture(t, nil)
	stationID := uuid.New()
	userID := uuid.New()
	_, err := f.workflow.AssignRole(context.Background(), superAdmin(), userID, auth.RoleFrontDesk, &stationID)
	require.NoError(t, err)

	self := auth.NewPrincipal(auth.Identity{ID: userID}, nil)
	grants, err := f.workflow.UserRoles(context.Background(), self, userID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	stranger := auth.NewPrincipal(auth.Identity{ID: uuid.New()}, []auth.RoleGrant{
		{Role: auth.RoleTechnician, StationID: &stationID},
	})
	_, err = f.workflow.UserRoles(context.Background(), stranger, userID)
	require.ErrorIs(t, err, auth.ErrForbidden)

	grants, err = f.workflow.UserRoles(context.Background(), stationAdmin(stationID), userID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestPromotionCountersign(t *testing.T) {
	f := newApprovalFixture(t, nil)
	stationID := uuid.New()
	admin := stationAdmin(stationID)
	root := superAdmin()
	userID := uuid.New()

	grant, err := f.workflow.RequestPromotion(context.Background(), admin, userID, &stationID)
	require.NoError(t, err)
	assert.True(t, grant.IsProvisional())

	_, err = f.workflow.RequestPromotion(context.Background(), admin, userID, &stationID)
	require.ErrorIs(t, err, auth.ErrPromotionPending)

	_, err = f.workflow.PendingPromotions(context.Background(), admin)
	require.ErrorIs(t, err, auth.ErrForbidden)

	pending, err := f.workflow.PendingPromotions(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, grant.ID, pending[0].ID)

	_, err = f.workflow.Countersign(context.Background(), admin, grant.ID)
	require.ErrorIs(t, err, auth.ErrForbidden)

	signed, err := f.workflow.Countersign(context.Background(), root, grant.ID)
	require.NoError(t, err)
	require.NotNil(t, signed.AssignedBy)
	assert.Equal(t, root.UserID, *signed.AssignedBy)
	assert.Equal(t, grant.ID, signed.ID)

	// the row was updated in place, not duplicated
	grants, err := f.repo.Roles().ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.True(t, auth.EffectiveRoles(grants).Has(auth.RoleStationAdmin))

	again := superAdmin()
	_, err = f.workflow.Countersign(context.Background(), again, grant.ID)
	require.ErrorIs(t, err, auth.ErrAlreadyCountersigned)

	reloaded, err := f.repo.Roles().Get(context.Background(), grant.ID)
	require.NoError(t, err)
	assert.Equal(t, root.UserID, *reloaded.AssignedBy)

	pending, err = f.workflow.PendingPromotions(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Contains(t, f.sink.types(), auth.ActivityEventPromotionRequested)
	assert.Contains(t, f.sink.types(), auth.ActivityEventPromotionCountersign)
}

func TestPromotionRequestRequiresManagedStation(t *testing.T) {
	f := newApprovalFixture(t, nil)
	admin := stationAdmin(uuid.New())

	_, err := f.workflow.RequestPromotion(context.Background(), admin, uuid.New(), ptr(uuid.New()))
	require.ErrorIs(t, err, auth.ErrForbidden)

	tech := auth.NewPrincipal(auth.Identity{ID: uuid.New()}, []auth.RoleGrant{{Role: auth.RoleTechnician, StationID: ptr(uuid.New())}})
	_, err = f.workflow.RequestPromotion(context.Background(), tech, uuid.New(), nil)
	require.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.workflow.RequestPromotion(context.Background(), admin, uuid.Nil, nil)
	require.ErrorIs(t, err, auth.ErrInvalidRole)
}

func TestCountersignRejectsSelfAndNonPromotions(t *testing.T) {
	f := newApprovalFixture(t, nil)
	root := superAdmin()

	own, err := f.repo.Roles().Insert(context.Background(), &auth.RoleGrant{UserID: root.UserID, Role: auth.RoleStationAdmin})
	require.NoError(t, err)
	_, err = f.workflow.Countersign(context.Background(), root, own.ID)
	require.ErrorIs(t, err, auth.ErrSelfCountersign)

	stationID := uuid.New()
	tech, err := f.workflow.AssignRole(context.Background(), root, uuid.New(), auth.RoleTechnician, &stationID)
	require.NoError(t, err)
	_, err = f.workflow.Countersign(context.Background(), root, tech.ID)
	require.ErrorIs(t, err, auth.ErrNotPromotionRequest)

	_, err = f.workflow.Countersign(context.Background(), root, uuid.New())
	assert.True(t, auth.IsNotFound(err))
}

func TestRejectPromotion(t *testing.T) {
	f := newApprovalFixture(t, nil)
	stationID := uuid.New()
	root := superAdmin()

	grant, err := f.workflow.RequestPromotion(context.Background(), stationAdmin(stationID), uuid.New(), &stationID)
	require.NoError(t, err)

	require.ErrorIs(t, f.workflow.RejectPromotion(context.Background(), stationAdmin(stationID), grant.ID), auth.ErrForbidden)
	require.NoError(t, f.workflow.RejectPromotion(context.Background(), root, grant.ID))

	_, err = f.repo.Roles().Get(context.Background(), grant.ID)
	require.ErrorIs(t, err, auth.ErrGrantNotFound)
	assert.Contains(t, f.sink.types(), auth.ActivityEventPromotionRejected)
}

func TestApproveRegistration(t *testing.T) {
	f := newApprovalFixture(t, nil)
	root := superAdmin()
	req := f.submit(t, "voltline")

	result, err := f.workflow.ApproveRegistration(context.Background(), root, req.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Station)
	assert.Equal(t, "voltline", result.Station.Name)
	assert.Equal(t, "Temp0raryPassw0rd", result.OneTimePassword)
	assert.Equal(t, auth.RegistrationApproved, result.Request.Status)
	require.NotNil(t, result.Request.AdminUserID)
	assert.Equal(t, result.AdminUserID, *result.Request.AdminUserID)

	stored, err := f.repo.Registrations().Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationApproved, stored.Status)
	assert.Equal(t, root.UserID, *stored.ApprovedBy)
	assert.NotNil(t, stored.ApprovedAt)

	station, err := f.repo.Stations().Get(context.Background(), result.Station.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner@voltline.test", station.Email)

	profile, err := f.repo.Profiles().Get(context.Background(), result.AdminUserID)
	require.NoError(t, err)
	assert.Equal(t, "owner", profile.Username)
	assert.Equal(t, result.Station.ID, *profile.StationID)

	grants, err := f.repo.Roles().ListByUser(context.Background(), result.AdminUserID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, auth.RoleStationAdmin, grants[0].Role)
	assert.Equal(t, root.UserID, *grants[0].AssignedBy)
	assert.Equal(t, result.Station.ID, *grants[0].StationID)

	assert.Equal(t, 1, f.identities.count())
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Temp0raryPassw0rd", f.notifier.sent[0].OneTimePassword)
	assert.Equal(t, result.Station.ID, f.notifier.sent[0].StationID)

	assert.Contains(t, f.sink.types(), auth.ActivityEventRegistrationApproved)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Approvals.WithLabelValues("registration", "approved")))
}

func TestApproveRegistrationTwice(t *testing.T) {
	f := newApprovalFixture(t, nil)
	root := superAdmin()
	req := f.submit(t, "ampere")

	_, err := f.workflow.ApproveRegistration(context.Background(), root, req.ID)
	require.NoError(t, err)

	_, err = f.workflow.ApproveRegistration(context.Background(), root, req.ID)
	require.ErrorIs(t, err, auth.ErrRequestResolved)
	assert.Equal(t, 1, f.identities.count())

	_, err = f.workflow.RejectRegistration(context.Background(), root, req.ID, "changed my mind")
	require.ErrorIs(t, err, auth.ErrRequestResolved)
}

func TestApproveRegistrationCompensatesIdentityFailure(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	f := newApprovalFixture(t, auth.NewRepositoryManager(db))
	root := superAdmin()
	req := f.submit(t, "joule")
	cause := errors.New("identity provider rejected the email")
	f.identities.createErr = cause

	countStations := func() int {
		n, err := db.NewSelect().Model((*auth.Station)(nil)).Count(ctx)
		require.NoError(t, err)
		return n
	}
	before := countStations()

	_, err := f.workflow.ApproveRegistration(ctx, root, req.ID)
	require.Error(t, err)
	assert.True(t, auth.IsWorkflowError(err))
	assert.ErrorIs(t, err, cause)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, "create_identity", rich.Metadata["failed_step"])
	assert.Equal(t, []string{"create_station"}, rich.Metadata["compensated"])

	stored, err := f.repo.Registrations().Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationPending, stored.Status)
	assert.Nil(t, stored.AdminUserID)

	assert.Empty(t, f.notifier.sent)
	assert.Contains(t, f.sink.types(), auth.ActivityEventApprovalCompensated)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Approvals.WithLabelValues("registration", "compensated")))

	// the station row itself is gone, not just reported as compensated
	assert.Equal(t, before, countStations())

	// once the provider recovers the same request can be approved
	f.identities.createErr = nil
	_, err = f.workflow.ApproveRegistration(ctx, root, req.ID)
	require.NoError(t, err)
	assert.Equal(t, before+1, countStations())
}

func TestApproveRegistrationCompensatesGrantFailure(t *testing.T) {
	base := newTestRepo(t)
	roles := &failingRoles{RoleStore: base.Roles(), failRole: auth.RoleStationAdmin, insertErr: errStoreDown}
	f := newApprovalFixture(t, faultyRepo{RepositoryManager: base, roles: roles})
	root := superAdmin()
	req := f.submit(t, "ohm")

	_, err := f.workflow.ApproveRegistration(context.Background(), root, req.ID)
	require.Error(t, err)
	assert.True(t, auth.IsWorkflowError(err))
	assert.ErrorIs(t, err, errStoreDown)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, "grant_station_admin", rich.Metadata["failed_step"])
	assert.Equal(t, []string{"create_profile", "create_identity", "create_station"}, rich.Metadata["compensated"])

	assert.Zero(t, f.identities.count())
	require.Len(t, f.identities.deleted, 1)

	_, err = f.repo.Profiles().Get(context.Background(), f.identities.deleted[0])
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)

	stored, err := f.repo.Registrations().Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationPending, stored.Status)
}

func TestApproveRegistrationCompensatesStationFailure(t *testing.T) {
	db := newTestDB(t)
	stations := &failingStations{StationStore: auth.NewStationsRepository(db), insertErr: errStoreDown}
	f := newApprovalFixture(t, auth.NewRepositoryManager(db, auth.WithStationStore(stations)))
	req := f.submit(t, "watt")

	_, err := f.workflow.ApproveRegistration(context.Background(), superAdmin(), req.ID)
	require.Error(t, err)
	assert.True(t, auth.IsWorkflowError(err))
	assert.Empty(t, stations.deleted)
	assert.Zero(t, f.identities.count())
}

func TestApproveRegistrationNotifierFailureKeepsApproval(t *testing.T) {
	f := newApprovalFixture(t, nil)
	f.notifier.err = errors.New("smtp down")
	req := f.submit(t, "farad")

	result, err := f.workflow.ApproveRegistration(context.Background(), superAdmin(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationApproved, result.Request.Status)
}

func TestApproveRegistrationRequiresSuperAdmin(t *testing.T) {
	f := newApprovalFixture(t, nil)
	req := f.submit(t, "tesla")

	_, err := f.workflow.ApproveRegistration(context.Background(), stationAdmin(uuid.New()), req.ID)
	require.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.workflow.ApproveRegistration(context.Background(), superAdmin(), uuid.New())
	assert.True(t, auth.IsNotFound(err))
}

func TestRejectRegistration(t *testing.T) {
	f := newApprovalFixture(t, nil)
	root := superAdmin()
	req := f.submit(t, "coulomb")

	_, err := f.workflow.RejectRegistration(context.Background(), root, req.ID, "   ")
	require.ErrorIs(t, err, auth.ErrRejectionReasonRequired)

	stored, err := f.repo.Registrations().Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationPending, stored.Status)

	rejected, err := f.workflow.RejectRegistration(context.Background(), root, req.ID, "incomplete documents")
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationRejected, rejected.Status)
	assert.Equal(t, "incomplete documents", rejected.RejectionReason)

	stored, err = f.repo.Registrations().Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationRejected, stored.Status)
	assert.Equal(t, "incomplete documents", stored.RejectionReason)
	assert.Nil(t, stored.AdminUserID)

	assert.Zero(t, f.identities.count())
	assert.Contains(t, f.sink.types(), auth.ActivityEventRegistrationRejected)

	_, err = f.workflow.ApproveRegistration(context.Background(), root, req.ID)
	require.ErrorIs(t, err, auth.ErrRequestResolved)
}

func TestRegistrationsFilter(t *testing.T) {
	f := newApprovalFixture(t, nil)
	root := superAdmin()
	first := f.submit(t, "alpha")
	f.submit(t, "beta")

	_, err := f.workflow.RejectRegistration(context.Background(), root, first.ID, "duplicate")
	require.NoError(t, err)

	all, err := f.workflow.Registrations(context.Background(), root, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.workflow.Registrations(context.Background(), root, auth.RegistrationPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "beta", pending[0].CompanyName)

	_, err = f.workflow.Registrations(context.Background(), stationAdmin(uuid.New()), "")
	require.ErrorIs(t, err, auth.ErrForbidden)
}

func TestGenerateOneTimePassword(t *testing.T) {
	a, err := auth.GenerateOneTimePassword()
	require.NoError(t, err)
	b, err := auth.GenerateOneTimePassword()
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "0")
	assert.NotContains(t, a, "O")
}

func TestAssignRoleWhilePromotionPending(t *testing.T) {
	f := newApprovalFixture(t, nil)
	stationID := uuid.New()
	root := superAdmin()
	userID := uuid.New()

	request, err := f.workflow.RequestPromotion(context.Background(), stationAdmin(stationID), userID, &stationID)
	require.NoError(t, err)

	_, err = f.workflow.AssignRole(context.Background(), root, userID, auth.RoleStationAdmin, &stationID)
	require.ErrorIs(t, err, auth.ErrPromotionPending)
	assert.NotErrorIs(t, err, auth.ErrDuplicateGrant)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, request.ID.String(), rich.Metadata["grant_id"])
	assert.Equal(t, "countersign", rich.Metadata["action"])

	// the pending request is what resolves it
	_, err = f.workflow.Countersign(context.Background(), root, request.ID)
	require.NoError(t, err)

	_, err = f.workflow.AssignRole(context.Background(), root, userID, auth.RoleStationAdmin, &stationID)
	require.ErrorIs(t, err, auth.ErrDuplicateGrant)
}

type hookedStateMachine struct {
	auth.RegistrationStateMachine
	after auth.TransitionHook
}

func (h hookedStateMachine) Transition(ctx context.Context, actor auth.ActorRef, req *auth.RegistrationRequest, target auth.RegistrationStatus, opts ...auth.TransitionOption) (*auth.RegistrationRequest, error) {
	return h.RegistrationStateMachine.Transition(ctx, actor, req, target, append(opts, auth.WithAfterTransitionHook(h.after))...)
}

func TestApproveRegistrationAfterHookFailureKeepsApproval(t *testing.T) {
	ctx := context.Background()
	f := newApprovalFixture(t, nil)
	machine := hookedStateMachine{
		RegistrationStateMachine: auth.NewRegistrationStateMachine(f.repo.Registrations(), auth.WithStateMachineLogger(auth.NopLogger())),
		after:                    func(context.Context, auth.TransitionContext) error { return errors.New("webhook unreachable") },
	}
	f.workflow = auth.NewApprovalWorkflow(f.repo, f.identities,
		auth.WithApprovalLogger(auth.NopLogger()),
		auth.WithPasswordGenerator(func() (string, error) { return "Temp0raryPassw0rd", nil }),
		auth.WithRegistrationStateMachine(machine),
	)
	req := f.submit(t, "farad")

	result, err := f.workflow.ApproveRegistration(ctx, superAdmin(), req.ID)
	require.NoError(t, err)

	stored, err := f.repo.Registrations().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RegistrationApproved, stored.Status)
	require.NotNil(t, stored.AdminUserID)
	assert.Equal(t, result.AdminUserID, *stored.AdminUserID)

	// nothing the approved request points at was compensated away
	_, err = f.repo.Stations().Get(ctx, result.Station.ID)
	require.NoError(t, err)
	grants, err := f.repo.Roles().ListByUser(ctx, result.AdminUserID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
	assert.Equal(t, 1, f.identities.count())
}

func TestGrantingRolesLeavesActingAdminSessionUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	f := newApprovalFixture(t, repo)
	stationID := uuid.New()

	provider := newFakeProvider()
	admin := provider.addAccount("admin@station.test", testPassword)
	_, err := repo.Roles().Insert(ctx, &auth.RoleGrant{UserID: admin.ID, Role: auth.RoleStationAdmin, StationID: &stationID, AssignedBy: &admin.ID})
	require.NoError(t, err)

	sm := auth.NewSessionManager(provider, repo.Roles(), repo.Profiles(), auth.WithSessionLogger(auth.NopLogger()))
	t.Cleanup(sm.Close)
	require.NoError(t, sm.Initialize(ctx))
	_, err = sm.SignIn(ctx, "admin@station.test", testPassword)
	require.NoError(t, err)
	require.NoError(t, sm.Flush(ctx))

	rolesBefore := sm.Roles()
	grantsBefore := sm.Resolver().Grants()
	require.Equal(t, auth.NewRoleSet(auth.RoleStationAdmin), rolesBefore)

	staff := uuid.New()
	grant, err := f.workflow.AssignRole(ctx, sm.Principal(), staff, auth.RoleTechnician, &stationID)
	require.NoError(t, err)
	assert.Equal(t, rolesBefore, sm.Roles())
	assert.Equal(t, grantsBefore, sm.Resolver().Grants())

	staffRoles, err := f.workflow.UserRoles(ctx, sm.Principal(), staff)
	require.NoError(t, err)
	assert.Equal(t, auth.NewRoleSet(auth.RoleTechnician), auth.EffectiveRoles(staffRoles))
	assert.Equal(t, rolesBefore, sm.Roles())

	require.NoError(t, f.workflow.RemoveRole(ctx, sm.Principal(), grant.ID))
	assert.Equal(t, rolesBefore, sm.Roles())
	assert.Equal(t, grantsBefore, sm.Resolver().Grants())

	require.NoError(t, sm.RefreshRoles(ctx))
	assert.Equal(t, rolesBefore, sm.Roles())
	require.Len(t, sm.Resolver().Grants(), 1)
	assert.Equal(t, grantsBefore[0].ID, sm.Resolver().Grants()[0].ID)
}

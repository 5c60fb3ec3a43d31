package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	flowAssignRole   = "assign_role"
	flowRemoveRole   = "remove_role"
	flowRegistration = "registration"
	flowPromotion    = "promotion"
)

// StationAdminCredentials is handed to a CredentialsNotifier after a station
// registration is approved.
type StationAdminCredentials struct {
	StationID       uuid.UUID
	StationName     string
	UserID          uuid.UUID
	Email           string
	ContactName     string
	OneTimePassword string
}

// CredentialsNotifier delivers one-time credentials to a new station admin.
type CredentialsNotifier interface {
	NotifyStationAdmin(ctx context.Context, creds StationAdminCredentials) error
}

// ApprovalResult is returned by a successful ApproveRegistration.
type ApprovalResult struct {
	Request         *RegistrationRequest `json:"request"`
	Station         *Station             `json:"station"`
	AdminUserID     uuid.UUID            `json:"admin_user_id"`
	OneTimePassword string               `json:"-"`
}

// ApprovalWorkflow performs the administrative mutations: role grants,
// station registration decisions and station_admin promotions. It never
// touches the acting principal's own cached roles.
type ApprovalWorkflow struct {
	repo         RepositoryManager
	identities   IdentityAdmin
	stateMachine RegistrationStateMachine
	notifier     CredentialsNotifier
	logger       Logger
	metrics      *Metrics
	activitySink ActivitySink
	now          func() time.Time
	passwordGen  func() (string, error)
}

// ApprovalOption customizes an ApprovalWorkflow.
type ApprovalOption func(*ApprovalWorkflow)

func WithApprovalLogger(logger Logger) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithApprovalMetrics(m *Metrics) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		w.metrics = m
	}
}

func WithApprovalActivitySink(sink ActivitySink) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		w.activitySink = normalizeActivitySink(sink)
	}
}

func WithApprovalClock(clock func() time.Time) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		if clock != nil {
			w.now = clock
		}
	}
}

func WithCredentialsNotifier(n CredentialsNotifier) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		w.notifier = n
	}
}

// WithPasswordGenerator overrides the one-time password source.
func WithPasswordGenerator(gen func() (string, error)) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		if gen != nil {
			w.passwordGen = gen
		}
	}
}

// WithRegistrationStateMachine swaps the state machine used to resolve requests.
func WithRegistrationStateMachine(sm RegistrationStateMachine) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		if sm != nil {
			w.stateMachine = sm
		}
	}
}

func NewApprovalWorkflow(repo RepositoryManager, identities IdentityAdmin, opts ...ApprovalOption) *ApprovalWorkflow {
	w := &ApprovalWorkflow{
		repo:         repo,
		identities:   identities,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
		passwordGen:  GenerateOneTimePassword,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.stateMachine == nil {
		w.stateMachine = NewRegistrationStateMachine(repo.Registrations(),
			WithStateMachineClock(w.now),
			WithStateMachineActivitySink(w.activitySink),
			WithStateMachineLogger(w.logger),
		)
	}
	return w
}

// AssignRole inserts exactly one grant with assigned_by set to the actor.
// Station-scoped roles without a station are rejected before any write.
func (w *ApprovalWorkflow) AssignRole(ctx context.Context, actor Principal, userID uuid.UUID, role Role, stationID *uuid.UUID) (*RoleGrant, error) {
	if err := validateGrant(userID, role, stationID); err != nil {
		return nil, err
	}
	if err := authorizeGrant(actor, role, stationID); err != nil {
		return nil, err
	}
	if err := w.ensureNoDuplicate(ctx, userID, role, stationID); err != nil {
		return nil, err
	}

	now := w.now().UTC()
	grant, err := w.repo.Roles().Insert(ctx, &RoleGrant{
		UserID:     userID,
		Role:       role,
		StationID:  stationID,
		AssignedBy: uuidPtr(actor.UserID),
		AssignedAt: &now,
	})
	if err != nil {
		w.metrics.approval(flowAssignRole, "error")
		return nil, err
	}

	w.metrics.approval(flowAssignRole, "ok")
	w.record(ctx, ActivityEvent{
		EventType: ActivityEventRoleAssigned,
		Actor:     ActorFromPrincipal(actor),
		UserID:    userID.String(),
		StationID: stringOrEmpty(stationID),
		Role:      role,
		Metadata:  map[string]any{"grant_id": grant.ID.String()},
	})
	return grant, nil
}

// RemoveRole deletes a grant the actor is allowed to manage.
func (w *ApprovalWorkflow) RemoveRole(ctx context.Context, actor Principal, grantID uuid.UUID) error {
	grant, err := w.repo.Roles().Get(ctx, grantID)
	if err != nil {
		return err
	}
	if err := authorizeGrant(actor, grant.Role, grant.StationID); err != nil {
		return err
	}
	if err := w.repo.Roles().Delete(ctx, grantID); err != nil {
		w.metrics.approval(flowRemoveRole, "error")
		return err
	}

	w.metrics.approval(flowRemoveRole, "ok")
	w.record(ctx, ActivityEvent{
		EventType: ActivityEventRoleRemoved,
		Actor:     ActorFromPrincipal(actor),
		UserID:    grant.UserID.String(),
		StationID: stringOrEmpty(grant.StationID),
		Role:      grant.Role,
		Metadata:  map[string]any{"grant_id": grantID.String()},
	})
	return nil
}

// UserRoles lists another user's grants without touching any cache.
func (w *ApprovalWorkflow) UserRoles(ctx context.Context, actor Principal, userID uuid.UUID) ([]RoleGrant, error) {
	if actor.UserID != userID && !CanManageUsers(actor.Roles) {
		return nil, ErrForbidden
	}
	return w.repo.Roles().ListByUser(ctx, userID)
}

// RequestPromotion files a provisional station_admin grant awaiting a
// super_admin countersign.
func (w *ApprovalWorkflow) RequestPromotion(ctx context.Context, actor Principal, userID uuid.UUID, stationID *uuid.UUID) (*RoleGrant, error) {
	if userID == uuid.Nil {
		return nil, withDetails(ErrInvalidRole, map[string]any{"reason": "user id is required"})
	}
	if !CanManageUsers(actor.Roles) {
		return nil, ErrForbidden
	}
	if stationID != nil && !actor.ManagesStation(*stationID) {
		return nil, ErrForbidden
	}
	if err := w.ensureNoDuplicate(ctx, userID, RoleStationAdmin, stationID); err != nil {
		return nil, err
	}

	grant, err := w.repo.Roles().Insert(ctx, &RoleGrant{
		UserID:    userID,
		Role:      RoleStationAdmin,
		StationID: stationID,
	})
	if err != nil {
		w.metrics.approval(flowPromotion, "error")
		return nil, err
	}

	w.metrics.approval(flowPromotion, "requested")
	w.record(ctx, ActivityEvent{
		EventType: ActivityEventPromotionRequested,
		Actor:     ActorFromPrincipal(actor),
		UserID:    userID.String(),
		StationID: stringOrEmpty(stationID),
		Role:      RoleStationAdmin,
		Metadata:  map[string]any{"grant_id": grant.ID.String()},
	})
	return grant, nil
}

// PendingPromotions lists provisional station_admin grants.
func (w *ApprovalWorkflow) PendingPromotions(ctx context.Context, actor Principal) ([]RoleGrant, error) {
	if !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	return w.repo.Roles().ListProvisional(ctx)
}

// Countersign finalizes a provisional promotion on the existing row. A grant
// that was already countersigned is rejected and its provenance kept.
func (w *ApprovalWorkflow) Countersign(ctx context.Context, actor Principal, grantID uuid.UUID) (*RoleGrant, error) {
	if !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}

	grant, err := w.repo.Roles().Get(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if grant.Role != RoleStationAdmin {
		return nil, ErrNotPromotionRequest
	}
	if grant.AssignedBy != nil {
		return nil, withDetails(ErrAlreadyCountersigned, map[string]any{
			"grant_id":    grantID.String(),
			"assigned_by": grant.AssignedBy.String(),
		})
	}
	if grant.UserID == actor.UserID {
		return nil, ErrSelfCountersign
	}

	ok, err := w.repo.Roles().Countersign(ctx, grantID, actor.UserID)
	if err != nil {
		w.metrics.approval(flowPromotion, "error")
		return nil, err
	}
	if !ok {
		return nil, withDetails(ErrAlreadyCountersigned, map[string]any{
			"grant_id": grantID.String(),
			"reason":   "countersigned concurrently",
		})
	}

	updated, err := w.repo.Roles().Get(ctx, grantID)
	if err != nil {
		return nil, err
	}

	w.metrics.approval(flowPromotion, "countersigned")
	w.record(ctx, ActivityEvent{
		EventType: ActivityEventPromotionCountersign,
		Actor:     ActorFromPrincipal(actor),
		UserID:    updated.UserID.String(),
		StationID: stringOrEmpty(updated.StationID),
		Role:      RoleStationAdmin,
		Metadata:  map[string]any{"grant_id": grantID.String()},
	})
	return updated, nil
}

// RejectPromotion deletes a provisional grant outright; no record remains.
func (w *ApprovalWorkflow) RejectPromotion(ctx context.Context, actor Principal, grantID uuid.UUID) error {
	if !actor.IsSuperAdmin() {
		return ErrForbidden
	}

	grant, err := w.repo.Roles().Get(ctx, grantID)
	if err != nil {
		return err
	}
	if grant.Role != RoleStationAdmin {
		return ErrNotPromotionRequest
	}
	if grant.AssignedBy != nil {
		return ErrAlreadyCountersigned
	}
	if err := w.repo.Roles().Delete(ctx, grantID); err != nil {
		return err
	}

	w.metrics.approval(flowPromotion, "rejected")
	w.record(ctx, ActivityEvent{
		EventType: ActivityEventPromotionRejected,
		Actor:     ActorFromPrincipal(actor),
		UserID:    grant.UserID.String(),
		StationID: stringOrEmpty(grant.StationID),
		Role:      RoleStationAdmin,
		Metadata:  map[string]any{"grant_id": grantID.String()},
	})
	return nil
}

// Registrations lists requests, optionally filtered by status.
func (w *ApprovalWorkflow) Registrations(ctx context.Context, actor Principal, status RegistrationStatus) ([]RegistrationRequest, error) {
	if !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	return w.repo.Registrations().List(ctx, status)
}

// ApproveRegistration creates the station, its admin identity, profile and
// station_admin grant, then marks the request approved. Any failure undoes
// the completed steps and returns one workflow error.
func (w *ApprovalWorkflow) ApproveRegistration(ctx context.Context, actor Principal, requestID uuid.UUID) (*ApprovalResult, error) {
	if !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}

	req, err := w.pendingRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	password, err := w.passwordGen()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate one-time password")
	}

	var (
		station  *Station
		identity Identity
		grant    *RoleGrant
		approved *RegistrationRequest
	)

	saga := NewSaga("station approval", w.logger,
		SagaStep{
			Name: "create_station",
			Action: func(ctx context.Context) error {
				created, err := w.repo.Stations().Insert(ctx, &Station{
					Name:    req.CompanyName,
					Address: req.Address,
					Phone:   req.Phone,
					Email:   req.ContactEmail,
				})
				if err != nil {
					return err
				}
				station = created
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return w.repo.Stations().Delete(ctx, station.ID)
			},
		},
		SagaStep{
			Name: "create_identity",
			Action: func(ctx context.Context) error {
				created, err := w.identities.CreateUser(ctx, NewIdentity{
					Email:          req.ContactEmail,
					Password:       password,
					EmailConfirmed: true,
					Metadata: map[string]any{
						"full_name":  req.ContactPersonName,
						"station_id": station.ID.String(),
					},
				})
				if err != nil {
					return err
				}
				identity = created
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return w.identities.DeleteUser(ctx, identity.ID)
			},
		},
		SagaStep{
			Name: "create_profile",
			Action: func(ctx context.Context) error {
				stationID := station.ID
				_, err := w.repo.Profiles().Upsert(ctx, &Profile{
					ID:        identity.ID,
					Username:  usernameFromEmail(req.ContactEmail),
					FullName:  req.ContactPersonName,
					StationID: &stationID,
				})
				return err
			},
			Compensate: func(ctx context.Context) error {
				return w.repo.Profiles().Delete(ctx, identity.ID)
			},
		},
		SagaStep{
			Name: "grant_station_admin",
			Action: func(ctx context.Context) error {
				stationID := station.ID
				now := w.now().UTC()
				created, err := w.repo.Roles().Insert(ctx, &RoleGrant{
					UserID:     identity.ID,
					Role:       RoleStationAdmin,
					StationID:  &stationID,
					AssignedBy: uuidPtr(actor.UserID),
					AssignedAt: &now,
				})
				if err != nil {
					return err
				}
				grant = created
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return w.repo.Roles().Delete(ctx, grant.ID)
			},
		},
		SagaStep{
			Name: "mark_approved",
			Action: func(ctx context.Context) error {
				updated, err := w.stateMachine.Transition(ctx, ActorFromPrincipal(actor), req, RegistrationApproved,
					WithAdminUserID(identity.ID),
					WithTransitionMetadata(map[string]any{"station_id": station.ID.String()}),
				)
				if err != nil {
					return err
				}
				approved = updated
				return nil
			},
		},
	)

	report, err := saga.Run(ctx)
	if err != nil {
		w.metrics.approval(flowRegistration, "compensated")
		w.record(ctx, ActivityEvent{
			EventType: ActivityEventApprovalCompensated,
			Actor:     ActorFromPrincipal(actor),
			Metadata: map[string]any{
				"request_id":  requestID.String(),
				"failed_step": report.FailedStep,
				"compensated": report.Compensated,
			},
		})
		return nil, err
	}

	w.metrics.approval(flowRegistration, "approved")

	if w.notifier != nil {
		notifyErr := w.notifier.NotifyStationAdmin(ctx, StationAdminCredentials{
			StationID:       station.ID,
			StationName:     station.Name,
			UserID:          identity.ID,
			Email:           identity.Email,
			ContactName:     req.ContactPersonName,
			OneTimePassword: password,
		})
		if notifyErr != nil {
			w.logger.Error("station admin credentials notification failed", "request_id", requestID, "error", notifyErr)
		}
	}

	return &ApprovalResult{
		Request:         approved,
		Station:         station,
		AdminUserID:     identity.ID,
		OneTimePassword: password,
	}, nil
}

// RejectRegistration flips a pending request to rejected with a reason and
// has no other side effects.
func (w *ApprovalWorkflow) RejectRegistration(ctx context.Context, actor Principal, requestID uuid.UUID, reason string) (*RegistrationRequest, error) {
	if !actor.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrRejectionReasonRequired
	}

	req, err := w.pendingRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	updated, err := w.stateMachine.Transition(ctx, ActorFromPrincipal(actor), req, RegistrationRejected,
		WithTransitionReason(reason),
	)
	if err != nil {
		w.metrics.approval(flowRegistration, "error")
		return nil, err
	}

	w.metrics.approval(flowRegistration, "rejected")
	return updated, nil
}

func (w *ApprovalWorkflow) pendingRequest(ctx context.Context, requestID uuid.UUID) (*RegistrationRequest, error) {
	req, err := w.repo.Registrations().Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if w.stateMachine.CurrentStatus(req).IsTerminal() {
		return nil, withDetails(ErrRequestResolved, map[string]any{
			"request_id": requestID.String(),
			"status":     req.Status,
		})
	}
	return req, nil
}

func (w *ApprovalWorkflow) ensureNoDuplicate(ctx context.Context, userID uuid.UUID, role Role, stationID *uuid.UUID) error {
	existing, err := w.repo.Roles().ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, g := range existing {
		if g.Role != role || !sameStation(g.StationID, stationID) {
			continue
		}
		if g.IsProvisional() {
			return withDetails(ErrPromotionPending, map[string]any{
				"grant_id": g.ID.String(),
				"action":   "countersign",
			})
		}
		return withDetails(ErrDuplicateGrant, map[string]any{
			"grant_id": g.ID.String(),
			"role":     role,
		})
	}
	return nil
}

func (w *ApprovalWorkflow) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, w.activitySink, w.logger, w.now, event)
}

func validateGrant(userID uuid.UUID, role Role, stationID *uuid.UUID) error {
	if userID == uuid.Nil {
		return withDetails(ErrInvalidRole, map[string]any{"reason": "user id is required"})
	}
	if !role.IsValid() {
		return withDetails(ErrInvalidRole, map[string]any{"role": role})
	}
	if role.IsStationScoped() && (stationID == nil || *stationID == uuid.Nil) {
		return withDetails(ErrStationRequired, map[string]any{"role": role})
	}
	return nil
}

// authorizeGrant: super_admin manages everything; a station_admin manages
// admin, technician and front_desk on stations it holds station_admin on.
func authorizeGrant(actor Principal, role Role, stationID *uuid.UUID) error {
	if actor.IsSuperAdmin() {
		return nil
	}
	if !CanManageUsers(actor.Roles) {
		return ErrForbidden
	}
	if role == RoleSuperAdmin || role == RoleStationAdmin {
		return withDetails(ErrForbidden, map[string]any{"role": role})
	}
	if stationID == nil || !actor.ManagesStation(*stationID) {
		return withDetails(ErrForbidden, map[string]any{"station_id": stringOrEmpty(stationID)})
	}
	return nil
}

func usernameFromEmail(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

const otpAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// GenerateOneTimePassword returns a 16 character password from crypto/rand.
func GenerateOneTimePassword() (string, error) {
	const n = 16
	limit := big.NewInt(int64(len(otpAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(otpAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

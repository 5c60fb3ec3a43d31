package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignInSuccess         ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure         ActivityEventType = "auth.signin.failure"
	ActivityEventSignUp                ActivityEventType = "auth.signup"
	ActivityEventSignOut               ActivityEventType = "auth.signout"
	ActivityEventRoleAssigned          ActivityEventType = "role.assigned"
	ActivityEventRoleRemoved           ActivityEventType = "role.removed"
	ActivityEventPromotionRequested    ActivityEventType = "promotion.requested"
	ActivityEventPromotionCountersign  ActivityEventType = "promotion.countersigned"
	ActivityEventPromotionRejected     ActivityEventType = "promotion.rejected"
	ActivityEventRegistrationSubmitted ActivityEventType = "registration.submitted"
	ActivityEventRegistrationApproved  ActivityEventType = "registration.approved"
	ActivityEventRegistrationRejected  ActivityEventType = "registration.rejected"
	ActivityEventApprovalCompensated   ActivityEventType = "registration.approval.compensated"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

// ActorFromPrincipal builds an ActorRef typed by the principal's highest role.
func ActorFromPrincipal(p Principal) ActorRef {
	if p.IsZero() {
		return ActorRef{Type: "system"}
	}
	actorType := "user"
	if roles := p.Roles.Slice(); len(roles) > 0 {
		actorType = string(roles[0])
	}
	return ActorRef{ID: p.UserID.String(), Type: actorType}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	StationID  string
	Role       Role
	FromStatus RegistrationStatus
	ToStatus   RegistrationStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity fills in defaults and never fails the caller.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error", "event", event.EventType, "error", err)
	}
}

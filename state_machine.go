package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Request *RegistrationRequest
	From    RegistrationStatus
	To      RegistrationStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// RegistrationStateMachine moves a RegistrationRequest out of pending exactly
// once. The store write is conditional on the row still being pending.
type RegistrationStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, req *RegistrationRequest, target RegistrationStatus, opts ...TransitionOption) (*RegistrationRequest, error)
	CurrentStatus(req *RegistrationRequest) RegistrationStatus
	CanTransition(from, to RegistrationStatus) bool
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*registrationStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *registrationStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *registrationStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *registrationStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *registrationStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the rejection reason. Required for rejected.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = strings.TrimSpace(reason)
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithAdminUserID records the identity created for an approved station.
func WithAdminUserID(id uuid.UUID) TransitionOption {
	return func(opts *transitionOptions) {
		opts.adminUserID = uuidPtr(id)
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
// Its error is logged and recorded on the activity event; the transition stands.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewRegistrationStateMachine returns the default implementation backed by the provided store.
func NewRegistrationStateMachine(store RegistrationStore, opts ...StateMachineOption) RegistrationStateMachine {
	sm := &registrationStateMachine{
		store: store,
		transitions: map[RegistrationStatus]map[RegistrationStatus]struct{}{
			RegistrationPending: {
				RegistrationApproved: {},
				RegistrationRejected: {},
			},
		},
		now:              time.Now,
		activitySink:     noopActivitySink{},
		logger:           defLogger{},
		hookErrorHandler: defaultHookErrorHandler,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type registrationStateMachine struct {
	store            RegistrationStore
	transitions      map[RegistrationStatus]map[RegistrationStatus]struct{}
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata    TransitionMetadata
	adminUserID *uuid.UUID
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *registrationStateMachine) Transition(ctx context.Context, actor ActorRef, req *RegistrationRequest, target RegistrationStatus, opts ...TransitionOption) (*RegistrationRequest, error) {
	if req == nil {
		return nil, withDetails(ErrInvalidTransition, map[string]any{
			"target": target,
			"reason": "request is nil",
		})
	}

	from := sm.CurrentStatus(req)
	if from.IsTerminal() {
		return nil, withDetails(ErrRequestResolved, map[string]any{
			"request_id": req.ID.String(),
			"status":     from,
		})
	}

	if !sm.CanTransition(from, target) {
		return nil, withDetails(ErrInvalidTransition, map[string]any{
			"from": from,
			"to":   target,
		})
	}

	options := sm.buildTransitionOptions(opts...)
	if target == RegistrationRejected && options.metadata.Reason == "" {
		return nil, ErrRejectionReasonRequired
	}

	ctxData := TransitionContext{
		Actor:   actor,
		Request: req,
		From:    from,
		To:      target,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return nil, err
	}

	updated := *req
	updated.Status = target
	now := sm.now().UTC()
	if id, err := uuid.Parse(actor.ID); err == nil {
		updated.ApprovedBy = &id
	}
	updated.ApprovedAt = &now
	if target == RegistrationRejected {
		updated.RejectionReason = options.metadata.Reason
	}
	if target == RegistrationApproved {
		updated.AdminUserID = options.adminUserID
	}

	ok, err := sm.store.Resolve(ctx, &updated)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, withDetails(ErrRequestResolved, map[string]any{
			"request_id": req.ID.String(),
			"reason":     "resolved concurrently",
		})
	}

	*req = updated

	metadata := sm.transitionMetadata(req, ctxData.Meta)

	// The status is already written; an after hook cannot undo it.
	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		sm.logger.Warn("registration after-transition hook failed",
			"request_id", req.ID.String(),
			"to", target,
			"error", err,
		)
		metadata["after_hook_error"] = err.Error()
	}

	eventType := ActivityEventRegistrationApproved
	if target == RegistrationRejected {
		eventType = ActivityEventRegistrationRejected
	}
	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     stringOrEmpty(req.AdminUserID),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   metadata,
	})

	return req, nil
}

func (sm *registrationStateMachine) CurrentStatus(req *RegistrationRequest) RegistrationStatus {
	if req == nil {
		return ""
	}
	if req.Status == "" {
		return RegistrationPending
	}
	return req.Status
}

func (sm *registrationStateMachine) CanTransition(from, to RegistrationStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *registrationStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *registrationStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "registration transition hook failed").
		WithMetadata(map[string]any{
			"phase":      phase,
			"request_id": tc.Request.ID.String(),
			"from":       tc.From,
			"to":         tc.To,
		})
}

func (sm *registrationStateMachine) transitionMetadata(req *RegistrationRequest, meta TransitionMetadata) map[string]any {
	result := map[string]any{
		"request_id":   req.ID.String(),
		"company_name": req.CompanyName,
	}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

func stringOrEmpty(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

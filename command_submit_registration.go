package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/uptrace/bun"
)

type SubmitRegistrationMessage struct {
	CompanyName       string `json:"company_name"`
	ContactEmail      string `json:"contact_email"`
	ContactPersonName string `json:"contact_person_name"`
	Phone             string `json:"phone"`
	Address           string `json:"address"`
}

func (e SubmitRegistrationMessage) Type() string { return "station.registration.submit" }

func (e SubmitRegistrationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.CompanyName, validation.Required, validation.Length(2, 200)),
		validation.Field(&e.ContactEmail, validation.Required, validation.Length(6, 254), is.Email),
		validation.Field(&e.ContactPersonName, validation.Required, validation.Length(2, 200)),
		validation.Field(&e.Phone, validation.Length(0, 40)),
		validation.Field(&e.Address, validation.Length(0, 400)),
	)
}

// SubmitRegistrationHandler stores a pending RegistrationRequest. The caller
// is unauthenticated; nothing is granted until a super_admin approves it.
type SubmitRegistrationHandler struct {
	repo         RepositoryManager
	featureGate  gate.FeatureGate
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

func NewSubmitRegistrationHandler(repo RepositoryManager) *SubmitRegistrationHandler {
	return &SubmitRegistrationHandler{
		repo:         repo,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
}

// WithFeatureGate gates submissions behind FeatureStationRegistration.
func (h *SubmitRegistrationHandler) WithFeatureGate(fg gate.FeatureGate) *SubmitRegistrationHandler {
	h.featureGate = fg
	return h
}

func (h *SubmitRegistrationHandler) WithActivitySink(sink ActivitySink) *SubmitRegistrationHandler {
	h.activitySink = normalizeActivitySink(sink)
	return h
}

func (h *SubmitRegistrationHandler) WithLogger(logger Logger) *SubmitRegistrationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SubmitRegistrationHandler) Execute(ctx context.Context, event SubmitRegistrationMessage) error {
	_, err := h.Submit(ctx, event)
	return err
}

// Submit is Execute returning the stored request.
func (h *SubmitRegistrationHandler) Submit(ctx context.Context, event SubmitRegistrationMessage) (*RegistrationRequest, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during station registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SubmitRegistrationHandler) execute(ctx context.Context, event SubmitRegistrationMessage) (*RegistrationRequest, error) {
	if err := requireRegistrationGate(ctx, h.featureGate); err != nil {
		return nil, err
	}

	event.CompanyName = strings.TrimSpace(event.CompanyName)
	event.ContactEmail = strings.ToLower(strings.TrimSpace(event.ContactEmail))
	event.ContactPersonName = strings.TrimSpace(event.ContactPersonName)

	if err := event.Validate(); err != nil {
		return nil, asValidationError(err, "invalid station registration")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var stored *RegistrationRequest
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		stored, err = h.repo.Registrations().InsertTx(ctx, tx, &RegistrationRequest{
			CompanyName:       event.CompanyName,
			ContactEmail:      event.ContactEmail,
			ContactPersonName: event.ContactPersonName,
			Phone:             strings.TrimSpace(event.Phone),
			Address:           strings.TrimSpace(event.Address),
			Status:            RegistrationPending,
		})
		return err
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "station registration transaction failed")
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventRegistrationSubmitted,
		ToStatus:  RegistrationPending,
		Metadata: map[string]any{
			"request_id":    stored.ID.String(),
			"company_name":  stored.CompanyName,
			"contact_email": stored.ContactEmail,
		},
	})
	return stored, nil
}

package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to callers by
//   default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records an operator or admin control-plane action.
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, resourceKey, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		ResourceKey: resourceKey,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogDNC records a contact entering the do-not-call list, with the call
// that triggered it when known.
func (s *Service) LogDNC(ctx context.Context, campaignID, callID, phone, reason string) error {
	return s.Append(ctx, Event{
		Type:       EventTypeDNC,
		CampaignID: campaignID,
		CallID:     callID,
		Message:    "contact added to dnc list",
		Metadata:   `{"phone":"` + phone + `","reason":"` + reason + `"}`,
	})
}

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/pkg/apperr"
)

// Collection is the change-feed name of the audit log.
const Collection = "auditLogs"

// Recorder is what other services write through. Record joins the caller's
// transaction, so an entry exists exactly when the action it describes does.
type Recorder interface {
	Record(ctx context.Context, actor auth.Principal, action, details string) error
}

type Service struct {
	repo    Repository
	changes outbox.Recorder
	now     func() time.Time
}

func NewService(repo Repository, changes outbox.Recorder) *Service {
	return &Service{repo: repo, changes: changes, now: time.Now}
}

func (s *Service) Record(ctx context.Context, actor auth.Principal, action, details string) error {
	if action == "" {
		return apperr.Invalid("audit action is required")
	}
	l := &Log{
		Timestamp: s.now(),
		UserID:    actor.UserID,
		UserEmail: actor.Email,
		Action:    action,
		Details:   details,
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return fmt.Errorf("record audit %s: %w", action, err)
	}
	return s.changes.Record(ctx, Collection, l.ID.String(), outbox.OpCreate, l)
}

// List returns entries newest first. Only administrators read the log.
func (s *Service) List(ctx context.Context, actor auth.Principal, f ListFilter) ([]*Log, int, error) {
	if !auth.Can(actor.Role, auth.ActAuditView) {
		return nil, 0, apperr.Forbidden("audit log is restricted to administrators")
	}
	return s.repo.List(ctx, f)
}

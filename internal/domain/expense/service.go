package expense

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/domain/audit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/pkg/apperr"
	"github.com/clinicdesk/clinic/pkg/daterange"
)

type Service struct {
	repo    Repository
	tx      db.TxRunner
	changes outbox.Recorder
	audit   audit.Recorder
	loc     *time.Location
	now     func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, changes outbox.Recorder, auditRec audit.Recorder, loc *time.Location) *Service {
	return &Service{repo: repo, tx: tx, changes: changes, audit: auditRec, loc: loc, now: time.Now}
}

// Add records an expense against the acting staff member. Date defaults to now.
func (s *Service) Add(ctx context.Context, actor auth.Principal, req AddRequest) (*Expense, error) {
	if !auth.Can(actor.Role, auth.ActExpensesCreate) {
		return nil, apperr.Forbidden("recording expenses requires the reception or administrator role")
	}
	e := &Expense{
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
		Category:    strings.TrimSpace(req.Category),
		Date:        s.now(),
		StaffID:     actor.UserID,
		StaffName:   actor.Name,
	}
	if e.StaffName == "" {
		e.StaffName = actor.Email
	}
	if req.Date != nil && !req.Date.IsZero() {
		e.Date = *req.Date
	}
	if e.Description == "" {
		return nil, apperr.Invalid("description is required")
	}
	if e.Amount <= 0 {
		return nil, apperr.Invalid("amount must be positive")
	}
	if e.Category == "" {
		return nil, apperr.Invalid("category is required")
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, e); err != nil {
			return fmt.Errorf("create expense: %w", err)
		}
		if err := s.changes.Record(ctx, Collection, e.ID.String(), outbox.OpCreate, e); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionExpenseAdded,
			fmt.Sprintf("Expense: %s (%s) - UGX %d", e.Description, e.Category, e.Amount))
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns the expenses of one calendar day; an empty day means today.
func (s *Service) List(ctx context.Context, day string) ([]*Expense, error) {
	r, err := daterange.ParseDay(day, s.loc, s.now())
	if err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	return s.repo.ListBetween(ctx, r.From, r.To)
}

func (s *Service) ListBetween(ctx context.Context, from, to time.Time) ([]*Expense, error) {
	return s.repo.ListBetween(ctx, from, to)
}

func (s *Service) Delete(ctx context.Context, actor auth.Principal, id uuid.UUID) error {
	if !auth.Can(actor.Role, auth.ActExpensesDelete) {
		return apperr.Forbidden("deleting expenses requires the administrator role")
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		if err := s.changes.Record(ctx, Collection, id.String(), outbox.OpDelete, nil); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionExpenseDeleted,
			fmt.Sprintf("Deleted expense: %s - UGX %d", e.Description, e.Amount))
	})
}

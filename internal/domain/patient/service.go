package patient

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/domain/visit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/pkg/apperr"
	"github.com/clinicdesk/clinic/pkg/daterange"
)

// Visits starts and lists the visits of a patient.
type Visits interface {
	Start(ctx context.Context, actor auth.Principal, patientID uuid.UUID, autoForward bool) (*visit.Visit, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*visit.Visit, int, error)
}

type Service struct {
	repo    Repository
	tx      db.TxRunner
	visits  Visits
	changes outbox.Recorder
}

func NewService(repo Repository, tx db.TxRunner, visits Visits, changes outbox.Recorder) *Service {
	return &Service{repo: repo, tx: tx, visits: visits, changes: changes}
}

func validate(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.TrimSpace(p.Email)
	if p.FirstName == "" || p.LastName == "" {
		return apperr.Invalid("firstName and lastName are required")
	}
	if !p.Gender.Valid() {
		return apperr.Invalid("gender must be Male, Female or Other")
	}
	if !daterange.ValidDate(p.DOB) {
		return apperr.Invalid("dob must be YYYY-MM-DD")
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return apperr.Invalid("email %q is not a valid address", p.Email)
		}
	}
	if p.Allergies == nil {
		p.Allergies = []string{}
	}
	return nil
}

// Register creates a patient. With autoForward a visit is opened directly
// in With-Doctor in the same transaction.
func (s *Service) Register(ctx context.Context, actor auth.Principal, p *Patient, autoForward bool) (*Registration, error) {
	if !auth.Can(actor.Role, auth.ActPatientsRegister) {
		return nil, apperr.Forbidden("registering patients requires the reception or administrator role")
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	p.CreatedBy = actor.UserID

	out := &Registration{Patient: p}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return fmt.Errorf("create patient: %w", err)
		}
		if err := s.changes.Record(ctx, Collection, p.ID.String(), outbox.OpCreate, p); err != nil {
			return err
		}
		if !autoForward {
			return nil
		}
		v, err := s.visits.Start(ctx, actor, p.ID, true)
		if err != nil {
			return err
		}
		out.Visit = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Patient, int, error) {
	f.Name = strings.TrimSpace(f.Name)
	return s.repo.List(ctx, f)
}

func (s *Service) Update(ctx context.Context, actor auth.Principal, id uuid.UUID, patch Patch) (*Patient, error) {
	if !auth.Can(actor.Role, auth.ActPatientsRegister) {
		return nil, apperr.Forbidden("updating patients requires the reception or administrator role")
	}
	var out *Patient
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		patch.apply(p)
		if err := validate(p); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, p); err != nil {
			return fmt.Errorf("update patient %s: %w", id, err)
		}
		out = p
		return s.changes.Record(ctx, Collection, p.ID.String(), outbox.OpUpdate, p)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of registered patients.
func (s *Service) Count(ctx context.Context) (int, error) {
	_, total, err := s.repo.List(ctx, ListFilter{Limit: 1})
	return total, err
}

func (s *Service) CountRegisteredBetween(ctx context.Context, from, to time.Time) (int, error) {
	return s.repo.CountCreatedBetween(ctx, from, to)
}

// Visits returns the visit history of a patient, newest first.
func (s *Service) Visits(ctx context.Context, id uuid.UUID, limit, offset int) ([]*visit.Visit, int, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.visits.ListByPatient(ctx, id, limit, offset)
}

package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/pkg/apperr"
	"github.com/clinicdesk/clinic/pkg/daterange"
)

// Patients reports whether a patient exists.
type Patients interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	repo     Repository
	tx       db.TxRunner
	patients Patients
	changes  outbox.Recorder
	loc      *time.Location
	now      func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, patients Patients, changes outbox.Recorder, loc *time.Location) *Service {
	return &Service{repo: repo, tx: tx, patients: patients, changes: changes, loc: loc, now: time.Now}
}

// Schedule books a patient with a doctor. Doctors booking without naming a
// doctor book themselves.
func (s *Service) Schedule(ctx context.Context, actor auth.Principal, req ScheduleRequest) (*Appointment, error) {
	if req.DoctorID == uuid.Nil && actor.Role == auth.RoleDoctor {
		req.DoctorID = actor.UserID
	}
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
		return nil, apperr.Invalid("patientId and doctorId are required")
	}
	if req.DateTime.IsZero() {
		return nil, apperr.Invalid("dateTime is required")
	}

	a := &Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		DateTime:  req.DateTime,
		Status:    StatusScheduled,
		Reason:    strings.TrimSpace(req.Reason),
		StaffID:   actor.UserID,
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.patients.Exists(ctx, a.PatientID)
		if err != nil {
			return fmt.Errorf("look up patient %s: %w", a.PatientID, err)
		}
		if !ok {
			return apperr.NotFound("patient %s not found", a.PatientID)
		}
		err = s.repo.Create(ctx, a)
		if db.IsForeignKeyViolation(err) {
			return apperr.NotFound("doctor %s not found", a.DoctorID)
		}
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		return s.changes.Record(ctx, Collection, a.ID.String(), outbox.OpCreate, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// List returns appointments, optionally for one doctor and one calendar day.
func (s *Service) List(ctx context.Context, doctorID *uuid.UUID, day string, limit, offset int) ([]*Appointment, int, error) {
	f := ListFilter{DoctorID: doctorID, Limit: limit, Offset: offset}
	if day != "" {
		r, err := daterange.ParseDay(day, s.loc, s.now())
		if err != nil {
			return nil, 0, apperr.Invalid("%v", err)
		}
		f.From, f.To = r.From, r.To
	}
	return s.repo.List(ctx, f)
}

// CountScheduled counts appointments still waiting to happen.
func (s *Service) CountScheduled(ctx context.Context) (int, error) {
	_, total, err := s.repo.List(ctx, ListFilter{Status: StatusScheduled, Limit: 1})
	return total, err
}

// SetStatus moves a scheduled appointment to Completed or Cancelled. Setting
// the current status again changes nothing.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("unknown appointment status %q", to)
	}
	var out *Appointment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		out = a
		if a.Status == to {
			return nil
		}
		if a.Status.Terminal() {
			return apperr.Conflict("appointment is already %s", a.Status)
		}
		a.Status = to
		if err := s.repo.UpdateStatus(ctx, a); err != nil {
			return fmt.Errorf("update appointment %s: %w", id, err)
		}
		return s.changes.Record(ctx, Collection, a.ID.String(), outbox.OpUpdate, a)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

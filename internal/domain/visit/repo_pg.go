package visit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const visitCols = `id, patient_id, staff_id, status, date, completed_at,
	vitals, nurse_notes, fluid_balance, administered_meds, clinical_notes,
	consultation_fee, additional_charges, prescription, lab_requests,
	created_at, updated_at`

// visitDocs holds the JSONB columns of a visit in wire form.
type visitDocs struct {
	vitals, fluids, meds, notes, charges, rx, labs []byte
}

func encodeDocs(v *Visit) (visitDocs, error) {
	var d visitDocs
	var err error
	enc := func(dst *[]byte, val interface{}, nullable bool) {
		if err != nil {
			return
		}
		var b []byte
		b, err = json.Marshal(val)
		if nullable && string(b) == "null" {
			b = nil
		}
		*dst = b
	}
	enc(&d.vitals, v.Vitals, true)
	enc(&d.fluids, v.FluidBalance, false)
	enc(&d.meds, v.AdministeredMeds, false)
	enc(&d.notes, v.ClinicalNotes, true)
	enc(&d.charges, v.AdditionalCharges, false)
	enc(&d.rx, v.Prescription, false)
	enc(&d.labs, v.LabRequests, false)
	if err != nil {
		return d, fmt.Errorf("encode visit %s: %w", v.ID, err)
	}
	return d, nil
}

func (d visitDocs) decode(v *Visit) error {
	pairs := []struct {
		raw []byte
		dst interface{}
	}{
		{d.vitals, &v.Vitals},
		{d.fluids, &v.FluidBalance},
		{d.meds, &v.AdministeredMeds},
		{d.notes, &v.ClinicalNotes},
		{d.charges, &v.AdditionalCharges},
		{d.rx, &v.Prescription},
		{d.labs, &v.LabRequests},
	}
	for _, p := range pairs {
		if len(p.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(p.raw, p.dst); err != nil {
			return fmt.Errorf("decode visit %s: %w", v.ID, err)
		}
	}
	return nil
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.normalize()
	d, err := encodeDocs(v)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visits (
			id, patient_id, staff_id, status, date, completed_at,
			vitals, nurse_notes, fluid_balance, administered_meds, clinical_notes,
			consultation_fee, additional_charges, prescription, lab_requests
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		v.ID, v.PatientID, nullUUID(v.StaffID), v.Status, v.Date, v.CompletedAt,
		d.vitals, v.NurseNotes, d.fluids, d.meds, d.notes,
		v.ConsultationFee, d.charges, d.rx, d.labs,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return r.get(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return r.get(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *repoPG) Update(ctx context.Context, v *Visit) error {
	v.normalize()
	d, err := encodeDocs(v)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visits SET
			status = $2, completed_at = $3, vitals = $4, nurse_notes = $5,
			fluid_balance = $6, administered_meds = $7, clinical_notes = $8,
			consultation_fee = $9, additional_charges = $10, prescription = $11,
			lab_requests = $12, updated_at = $13
		WHERE id = $1`,
		v.ID, v.Status, v.CompletedAt, d.vitals, v.NurseNotes,
		d.fluids, d.meds, d.notes,
		v.ConsultationFee, d.charges, d.rx,
		d.labs, v.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Visit, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.ActiveOnly {
		where += ` AND status <> 'Completed'`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visits`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	visits, err := r.query(ctx, `SELECT `+visitCols+` FROM visits`+where+
		fmt.Sprintf(` ORDER BY date DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	return visits, total, err
}

func (r *repoPG) ListWithPendingLab(ctx context.Context) ([]*Visit, error) {
	return r.query(ctx, `SELECT `+visitCols+` FROM visits
		WHERE lab_requests @> '[{"status":"Pending"}]'
		ORDER BY date`)
}

func (r *repoPG) ListStartedBetween(ctx context.Context, from, to time.Time) ([]*Visit, error) {
	return r.query(ctx, `SELECT `+visitCols+` FROM visits
		WHERE date >= $1 AND date < $2 ORDER BY date`, from, to)
}

func (r *repoPG) ListCompletedBetween(ctx context.Context, from, to time.Time) ([]*Visit, error) {
	return r.query(ctx, `SELECT `+visitCols+` FROM visits
		WHERE completed_at >= $1 AND completed_at < $2 ORDER BY completed_at`, from, to)
}

func (r *repoPG) Tally(ctx context.Context) (Tally, error) {
	var active, completed, pending, revenue int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status <> 'Completed'),
			COUNT(*) FILTER (WHERE status = 'Completed'),
			COALESCE(SUM((SELECT COUNT(*) FROM jsonb_array_elements(lab_requests) l
				WHERE l->>'status' = 'Pending')), 0)::bigint,
			COALESCE(SUM((SELECT COALESCE(SUM((p->>'price')::bigint), 0) FROM jsonb_array_elements(prescription) p
				WHERE (p->>'dispensed')::boolean)) FILTER (WHERE status = 'Completed'), 0)::bigint
		FROM visits`).Scan(&active, &completed, &pending, &revenue)
	if err != nil {
		return Tally{}, fmt.Errorf("tally visits: %w", err)
	}
	return Tally{Active: int(active), Completed: int(completed), PendingLabTests: int(pending), DispensedRevenue: revenue}, nil
}

func (r *repoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var visits []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	var staffID *uuid.UUID
	var d visitDocs
	err := row.Scan(&v.ID, &v.PatientID, &staffID, &v.Status, &v.Date, &v.CompletedAt,
		&d.vitals, &v.NurseNotes, &d.fluids, &d.meds, &d.notes,
		&v.ConsultationFee, &d.charges, &d.rx, &d.labs,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if staffID != nil {
		v.StaffID = *staffID
	}
	if err := d.decode(&v); err != nil {
		return nil, err
	}
	v.normalize()
	return &v, nil
}

func (r *repoPG) AddStatusChange(ctx context.Context, sc *StatusChange) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit_status_history (visit_id, from_status, to_status, legal, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		sc.VisitID, sc.From, sc.To, sc.Legal, nullUUID(sc.ChangedBy), sc.ChangedAt,
	).Scan(&sc.ID)
}

func (r *repoPG) ListStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, from_status, to_status, legal, changed_by, changed_at
		FROM visit_status_history WHERE visit_id = $1 ORDER BY changed_at, id`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*StatusChange
	for rows.Next() {
		var sc StatusChange
		var by *uuid.UUID
		if err := rows.Scan(&sc.ID, &sc.VisitID, &sc.From, &sc.To, &sc.Legal, &by, &sc.ChangedAt); err != nil {
			return nil, err
		}
		if by != nil {
			sc.ChangedBy = *by
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

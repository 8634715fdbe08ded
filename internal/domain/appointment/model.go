package appointment

import (
	"time"

	"github.com/google/uuid"
)

const Collection = "appointments"

type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses cannot be left once reached.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Appointment struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patientId"`
	DoctorID  uuid.UUID `json:"doctorId"`
	DateTime  time.Time `json:"dateTime"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	StaffID   uuid.UUID `json:"staffId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ScheduleRequest struct {
	PatientID uuid.UUID `json:"patientId"`
	DoctorID  uuid.UUID `json:"doctorId"`
	DateTime  time.Time `json:"dateTime"`
	Reason    string    `json:"reason"`
}

// ListFilter narrows List. A zero From/To means no time bound.
type ListFilter struct {
	DoctorID *uuid.UUID
	Status   Status
	From, To time.Time
	Limit    int
	Offset   int
}

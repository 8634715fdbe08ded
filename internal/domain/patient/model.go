package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/domain/visit"
)

const Collection = "patients"

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	DOB       string    `json:"dob,omitempty"`
	Gender    Gender    `json:"gender"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address"`
	BloodType string    `json:"bloodType,omitempty"`
	Allergies []string  `json:"allergies"`
	CreatedBy uuid.UUID `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Patch carries the fields of an update. Nil fields are left alone.
type Patch struct {
	FirstName *string   `json:"firstName"`
	LastName  *string   `json:"lastName"`
	DOB       *string   `json:"dob"`
	Gender    *Gender   `json:"gender"`
	Phone     *string   `json:"phone"`
	Email     *string   `json:"email"`
	Address   *string   `json:"address"`
	BloodType *string   `json:"bloodType"`
	Allergies *[]string `json:"allergies"`
}

func (p Patch) apply(pt *Patient) {
	if p.FirstName != nil {
		pt.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		pt.LastName = *p.LastName
	}
	if p.DOB != nil {
		pt.DOB = *p.DOB
	}
	if p.Gender != nil {
		pt.Gender = *p.Gender
	}
	if p.Phone != nil {
		pt.Phone = *p.Phone
	}
	if p.Email != nil {
		pt.Email = *p.Email
	}
	if p.Address != nil {
		pt.Address = *p.Address
	}
	if p.BloodType != nil {
		pt.BloodType = *p.BloodType
	}
	if p.Allergies != nil {
		pt.Allergies = *p.Allergies
	}
}

type ListFilter struct {
	Name   string
	Limit  int
	Offset int
}

// Registration is the outcome of Register. Visit is set when the patient
// was forwarded straight to a doctor.
type Registration struct {
	Patient *Patient     `json:"patient"`
	Visit   *visit.Visit `json:"visit,omitempty"`
}

package staff

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// Change-feed collections.
const (
	Collection      = "users"
	StaffCollection = "staff"
)

// MinPasswordLength matches the sign-in provider the clinic used before.
const MinPasswordLength = 6

const (
	DefaultDepartment = "General"
	AdminDepartment   = "Administration"
)

type User struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"username"`
	FullName          string     `json:"fullName"`
	Role              auth.Role  `json:"role"`
	Department        string     `json:"department"`
	Active            bool       `json:"active"`
	EmailVerified     bool       `json:"emailVerified"`
	LastLogin         *time.Time `json:"lastLogin,omitempty"`
	CreatedBy         uuid.UUID  `json:"createdBy,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	PasswordHash      string     `json:"-"`
	VerificationToken string     `json:"-"`
}

func (u *User) Principal() auth.Principal {
	return auth.Principal{UserID: u.ID, Email: u.Email, Name: u.FullName, Role: u.Role}
}

// Member is an administrator's copy of a staff profile.
type Member struct {
	AdminID    uuid.UUID `json:"adminId"`
	StaffID    uuid.UUID `json:"staffId"`
	Email      string    `json:"username"`
	FullName   string    `json:"fullName"`
	Role       auth.Role `json:"role"`
	Department string    `json:"department"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

func memberOf(adminID uuid.UUID, u *User) *Member {
	return &Member{
		AdminID:    adminID,
		StaffID:    u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Role:       u.Role,
		Department: u.Department,
		Active:     u.Active,
	}
}

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type RegisterRequest struct {
	Email      string    `json:"email"`
	Password   string    `json:"password"`
	FullName   string    `json:"fullName"`
	Role       auth.Role `json:"role"`
	Department string    `json:"department"`
}

// Patch carries the fields of a profile update. Nil fields are left alone.
type Patch struct {
	FullName   *string    `json:"fullName"`
	Role       *auth.Role `json:"role"`
	Department *string    `json:"department"`
	Active     *bool      `json:"active"`
}

// Session is returned by a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}

package staff

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/audit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/pkg/apperr"
)

var (
	errBadCredentials = apperr.New(apperr.KindUnauthenticated, "invalid email or password")
	errUnverified     = apperr.New(apperr.KindUnauthenticated, "email not verified")
	errInactive       = apperr.New(apperr.KindForbidden, "account is deactivated")
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(p auth.Principal) (string, time.Time, error)
}

// Verifier delivers verification links. invitedRole is empty for self sign-up.
type Verifier interface {
	SendVerification(ctx context.Context, to, name, token, invitedRole string) error
}

type Service struct {
	repo            Repository
	tx              db.TxRunner
	issuer          TokenIssuer
	verifier        Verifier
	changes         outbox.Recorder
	audit           audit.Recorder
	privilegedEmail string
	logger          zerolog.Logger
	now             func() time.Time
	newToken        func() (string, error)
}

func NewService(repo Repository, tx db.TxRunner, issuer TokenIssuer, verifier Verifier,
	changes outbox.Recorder, auditRec audit.Recorder, privilegedEmail string, logger zerolog.Logger) *Service {
	return &Service{
		repo:            repo,
		tx:              tx,
		issuer:          issuer,
		verifier:        verifier,
		changes:         changes,
		audit:           auditRec,
		privilegedEmail: normalizeEmail(privilegedEmail),
		logger:          logger,
		now:             time.Now,
		newToken:        randomToken,
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *Service) isPrivileged(email string) bool {
	return s.privilegedEmail != "" && email == s.privilegedEmail
}

func validateCredentials(email, password, fullName string) error {
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return apperr.Invalid("email %q is not a valid address", email)
	}
	if len(password) < MinPasswordLength {
		return apperr.Invalid("password must be at least %d characters", MinPasswordLength)
	}
	if strings.TrimSpace(fullName) == "" {
		return apperr.Invalid("fullName is required")
	}
	return nil
}

// newUser builds an unverified, active account with a hashed password.
func (s *Service) newUser(email, password, fullName string, role auth.Role, department string) (*User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	token, err := s.newToken()
	if err != nil {
		return nil, err
	}
	return &User{
		Email:             email,
		FullName:          strings.TrimSpace(fullName),
		Role:              role,
		Department:        department,
		Active:            true,
		PasswordHash:      hash,
		VerificationToken: token,
	}, nil
}

func (s *Service) create(ctx context.Context, u *User) error {
	err := s.repo.Create(ctx, u)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("an account with email %s already exists", u.Email)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return s.changes.Record(ctx, Collection, u.ID.String(), outbox.OpCreate, u)
}

// sendVerification runs after commit. A delivery failure leaves the account
// in place; the notifier has already logged it.
func (s *Service) sendVerification(ctx context.Context, u *User, invitedRole string) {
	if err := s.verifier.SendVerification(ctx, u.Email, u.FullName, u.VerificationToken, invitedRole); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("account created without verification email")
	}
}

// SignUp self-registers an unverified account. New accounts are doctors in
// the General department; the privileged address becomes an administrator.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*User, error) {
	email := normalizeEmail(req.Email)
	if err := validateCredentials(email, req.Password, req.FullName); err != nil {
		return nil, err
	}
	role, dept := auth.RoleDoctor, DefaultDepartment
	if s.isPrivileged(email) {
		role, dept = auth.RoleAdmin, AdminDepartment
	}
	u, err := s.newUser(email, req.Password, req.FullName, role, dept)
	if err != nil {
		return nil, err
	}
	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.create(ctx, u)
	}); err != nil {
		return nil, err
	}
	s.sendVerification(ctx, u, "")
	return u, nil
}

// Register creates a staff account on behalf of an administrator together
// with the administrator's copy of the profile.
func (s *Service) Register(ctx context.Context, actor auth.Principal, req RegisterRequest) (*User, error) {
	if !auth.Can(actor.Role, auth.ActStaffManage) {
		return nil, apperr.Forbidden("registering staff requires the administrator role")
	}
	email := normalizeEmail(req.Email)
	if err := validateCredentials(email, req.Password, req.FullName); err != nil {
		return nil, err
	}
	if !req.Role.Valid() {
		return nil, apperr.Invalid("unknown role %q", req.Role)
	}
	dept := strings.TrimSpace(req.Department)
	if dept == "" {
		dept = DefaultDepartment
	}
	u, err := s.newUser(email, req.Password, req.FullName, req.Role, dept)
	if err != nil {
		return nil, err
	}
	u.CreatedBy = actor.UserID

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.create(ctx, u); err != nil {
			return err
		}
		m := memberOf(actor.UserID, u)
		if err := s.repo.CreateMember(ctx, m); err != nil {
			return fmt.Errorf("create staff record: %w", err)
		}
		if err := s.changes.Record(ctx, StaffCollection, u.ID.String(), outbox.OpCreate, m); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionStaffRegistered,
			fmt.Sprintf("Registered %s (%s) as %s", u.FullName, u.Email, u.Role))
	})
	if err != nil {
		return nil, err
	}
	s.sendVerification(ctx, u, string(u.Role))
	return u, nil
}

// VerifyEmail confirms the address the token was mailed to.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Invalid("token is required")
	}
	var out *User
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.GetByVerificationToken(ctx, token)
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("verification link is invalid or already used")
		}
		if err != nil {
			return err
		}
		u.EmailVerified = true
		u.VerificationToken = ""
		if err := s.repo.Update(ctx, u); err != nil {
			return fmt.Errorf("verify user %s: %w", u.ID, err)
		}
		out = u
		return s.changes.Record(ctx, Collection, u.ID.String(), outbox.OpUpdate, u)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Login checks credentials and returns a signed session token. Unverified
// accounts are treated as signed out.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	var u *User
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.repo.GetByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			return errBadCredentials
		}
		if err != nil {
			return err
		}
		if !auth.CheckPassword(password, u.PasswordHash) {
			return errBadCredentials
		}
		if !u.EmailVerified {
			return errUnverified
		}
		if !u.Active {
			return errInactive
		}
		if s.isPrivileged(u.Email) && u.Role != auth.RoleAdmin {
			s.logger.Info().Str("user_id", u.ID.String()).Msg("promoting privileged account to ADMIN")
			u.Role = auth.RoleAdmin
			if err := s.repo.Update(ctx, u); err != nil {
				return fmt.Errorf("promote user %s: %w", u.ID, err)
			}
			if err := s.repo.UpdateMembers(ctx, u); err != nil {
				return fmt.Errorf("promote staff records of %s: %w", u.ID, err)
			}
			if err := s.changes.Record(ctx, Collection, u.ID.String(), outbox.OpUpdate, u); err != nil {
				return err
			}
		}
		now := s.now()
		if err := s.repo.TouchLogin(ctx, u.ID, now); err != nil {
			return fmt.Errorf("record login of %s: %w", u.ID, err)
		}
		u.LastLogin = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	token, exp, err := s.issuer.Issue(u.Principal())
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}

func (s *Service) Me(ctx context.Context, actor auth.Principal) (*User, error) {
	return s.repo.GetByID(ctx, actor.UserID)
}

// Update changes a profile. Staff may edit their own name and department;
// everything else, and other people's profiles, needs the administrator role.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id uuid.UUID, patch Patch) (*User, error) {
	isAdmin := auth.Can(actor.Role, auth.ActStaffManage)
	if !isAdmin && (actor.UserID != id || patch.Role != nil || patch.Active != nil) {
		return nil, apperr.Forbidden("only an administrator can change roles or other staff profiles")
	}
	if patch.Role != nil && !patch.Role.Valid() {
		return nil, apperr.Invalid("unknown role %q", *patch.Role)
	}
	if patch.FullName != nil && strings.TrimSpace(*patch.FullName) == "" {
		return nil, apperr.Invalid("fullName must not be empty")
	}

	var out *User
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if patch.FullName != nil {
			u.FullName = strings.TrimSpace(*patch.FullName)
		}
		if patch.Department != nil {
			u.Department = strings.TrimSpace(*patch.Department)
		}
		if patch.Role != nil {
			u.Role = *patch.Role
		}
		if patch.Active != nil {
			u.Active = *patch.Active
		}
		if err := s.repo.Update(ctx, u); err != nil {
			return fmt.Errorf("update user %s: %w", id, err)
		}
		if err := s.changes.Record(ctx, Collection, u.ID.String(), outbox.OpUpdate, u); err != nil {
			return err
		}
		out = u
		if !isAdmin {
			return nil
		}
		if err := s.repo.UpdateMembers(ctx, u); err != nil {
			return fmt.Errorf("update staff records of %s: %w", id, err)
		}
		return s.audit.Record(ctx, actor, audit.ActionStaffUpdated,
			fmt.Sprintf("Updated %s (%s): role %s, active %t", u.FullName, u.Email, u.Role, u.Active))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the acting administrator's staff record and then the
// account. Self-signed-up accounts have no staff record and lose only the
// account. A record kept by another administrator is not touched. If either
// removal finds nothing the transaction is rolled back.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id uuid.UUID) error {
	if !auth.Can(actor.Role, auth.ActStaffManage) {
		return apperr.Forbidden("removing staff requires the administrator role")
	}
	if id == actor.UserID {
		return apperr.Conflict("administrators cannot remove their own account")
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		owners, err := s.repo.CountMembers(ctx, id)
		if err != nil {
			return fmt.Errorf("count staff records of %s: %w", id, err)
		}
		if owners > 0 {
			n, err := s.repo.DeleteMember(ctx, actor.UserID, id)
			if err != nil {
				return fmt.Errorf("delete staff record of %s: %w", id, err)
			}
			if n == 0 {
				return apperr.NotFound("%s is not on your staff list", u.Email)
			}
			if err := s.changes.Record(ctx, StaffCollection, id.String(), outbox.OpDelete, nil); err != nil {
				return err
			}
		}
		n, err := s.repo.Delete(ctx, id)
		if db.IsForeignKeyViolation(err) {
			return apperr.Conflict("%s is still referenced and cannot be removed; deactivate the account instead", u.Email)
		}
		if err != nil {
			return fmt.Errorf("delete user %s: %w", id, err)
		}
		if n == 0 {
			return ErrNotFound
		}
		if err := s.changes.Record(ctx, Collection, id.String(), outbox.OpDelete, nil); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionStaffRemoved,
			fmt.Sprintf("Removed %s (%s)", u.FullName, u.Email))
	})
}

// ListStaff returns the staff the administrator registered.
func (s *Service) ListStaff(ctx context.Context, actor auth.Principal, limit, offset int) ([]*Member, int, error) {
	if !auth.Can(actor.Role, auth.ActStaffManage) {
		return nil, 0, apperr.Forbidden("listing staff requires the administrator role")
	}
	return s.repo.ListMembers(ctx, actor.UserID, limit, offset)
}

// BootstrapAdmin creates a verified administrator without an acting user.
// It is reachable only from the command line.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password, fullName string) (*User, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password, fullName); err != nil {
		return nil, err
	}
	u, err := s.newUser(email, password, fullName, auth.RoleAdmin, AdminDepartment)
	if err != nil {
		return nil, err
	}
	u.EmailVerified = true
	u.VerificationToken = ""
	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.create(ctx, u)
	}); err != nil {
		return nil, err
	}
	return u, nil
}

package account

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/hilcoe/rms/core"
)

// Roles
const (
	RoleResearcher  = "Researcher"
	RoleSupervisor  = "Supervisor"
	RoleCoordinator = "Coordinator"
	RoleExaminer    = "Examiner"
	RoleAdmin       = "Admin"
)

var (
	AllRoles = []string{RoleResearcher, RoleSupervisor, RoleCoordinator, RoleExaminer, RoleAdmin}

	// ManagerRoles may administer the roster, supervisors and assignments.
	ManagerRoles = []string{RoleCoordinator, RoleAdmin}
)

type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	StudentID    string    `json:"student_id,omitempty"`
	SupervisorID string    `json:"supervisor_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (a *Account) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a *Account) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pwd))
}

func (a *Account) HasRole(roles ...string) bool {
	for _, role := range roles {
		if a.Role == role {
			return true
		}
	}
	return false
}

func (a *Account) IsManager() bool {
	return a.HasRole(ManagerRoles...)
}

// Link ties an account to the roster entry or supervisor profile it was provisioned for.
type Link struct {
	StudentID    string
	SupervisorID string
}

// NewAccount contains information needed to create a new Account.
type NewAccount struct {
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=Researcher Supervisor Coordinator Examiner Admin"`
	Link     Link   `json:"-"`
}

func (na *NewAccount) Validate(validate *validator.Validate) error {
	na.Email = core.CleanString(na.Email, true /* lower */)
	na.Phone = core.CleanString(na.Phone)
	na.Name = core.CleanName(na.Name)
	na.Link.StudentID = core.CleanString(na.Link.StudentID)
	na.Link.SupervisorID = core.CleanString(na.Link.SupervisorID)
	return validate.Struct(na)
}

// passwordChange is validated against the password policy on behalf of an existing Account.
type passwordChange struct {
	Password string `json:"new_password" validate:"required"`
	Name     string `json:"-"`
	Email    string `json:"-"`
	field    string // reported field name; defaults to new_password
}

type ResetPassword struct {
	Token           string `json:"token" validate:"required"`
	UID             string `json:"uid" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (rp ResetPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

// GetFilter selects a single Account. The first non-empty field wins, in declaration order.
type GetFilter struct {
	ID           string
	Email        string
	StudentID    string
	SupervisorID string
}

type QueryFilter struct {
	Roles []string
}

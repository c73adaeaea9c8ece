package account

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
)

var (
	// errors
	ErrNotFound          = core.NewError(core.ReasonNotFound, "account not found")
	ErrEmailTaken        = core.NewError(core.ReasonEmailTaken, "an account with this email already exists")
	ErrInvalidCredential = core.NewError(core.ReasonInvalidCredential, "invalid credentials")
	ErrStudentLinked     = core.NewError(core.ReasonDuplicateID, "an account is already linked to this student")
)

type (
	// Repository persists Accounts. CreateAccount must translate a violation of the store's unique
	// email constraint into ErrEmailTaken, and of its unique student link into ErrStudentLinked.
	Repository interface {
		CreateAccount(ctx context.Context, acc Account) (Account, error)
		GetAccount(ctx context.Context, filter GetFilter) (Account, error)
		QueryAccounts(ctx context.Context, filter QueryFilter) ([]Account, error)
		UpdateAccount(ctx context.Context, acc Account) (Account, error)
	}

	// Provisioner creates Accounts and manages their credentials.
	Provisioner struct {
		repo     Repository
		mailSvc  core.EmailService
		validate *validator.Validate
		conf     *core.Config
		tokens   tokenGenerator
	}
)

func NewProvisioner(repo Repository, mailSvc core.EmailService, validate *validator.Validate, conf *core.Config) *Provisioner {
	return &Provisioner{
		repo:     repo,
		mailSvc:  mailSvc,
		validate: validate,
		conf:     conf,
		tokens:   tokenGenerator{secret: conf.SecretKey, timeout: conf.PasswordResetTimeoutDelta},
	}
}

// Create validates na and stores a new active Account.
// Email uniqueness is left to the store: two concurrent creations with one email never both succeed.
func (p *Provisioner) Create(ctx context.Context, na NewAccount) (Account, error) {
	if err := na.Validate(p.validate); err != nil {
		return Account{}, err
	}

	now := time.Now().UTC()
	acc := Account{
		ID:           uuid.New().String(),
		Email:        na.Email,
		Phone:        na.Phone,
		Name:         na.Name,
		Role:         na.Role,
		StudentID:    na.Link.StudentID,
		SupervisorID: na.Link.SupervisorID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := acc.SetPassword(na.Password); err != nil {
		return Account{}, errors.Wrap(err, "hashing password")
	}
	return p.repo.CreateAccount(ctx, acc)
}

// ChangePassword replaces the password of acc once current is proven.
func (p *Provisioner) ChangePassword(ctx context.Context, acc Account, current, newPwd string) (Account, error) {
	if err := acc.CheckPassword(current); err != nil {
		return Account{}, ErrInvalidCredential
	}
	if err := p.validate.Struct(passwordChange{Password: newPwd, Name: acc.Name, Email: acc.Email}); err != nil {
		return Account{}, err
	}
	if err := acc.SetPassword(newPwd); err != nil {
		return Account{}, errors.Wrap(err, "hashing password")
	}
	acc.UpdatedAt = time.Now().UTC()
	return p.repo.UpdateAccount(ctx, acc)
}

// SetPassword sets a new password without proof of the current one (admin CLI).
func (p *Provisioner) SetPassword(ctx context.Context, acc Account, pwd string) (Account, error) {
	if err := acc.SetPassword(pwd); err != nil {
		return Account{}, errors.Wrap(err, "hashing password")
	}
	acc.UpdatedAt = time.Now().UTC()
	return p.repo.UpdateAccount(ctx, acc)
}

// Authenticate checks the credentials of an active Account and records the login.
func (p *Provisioner) Authenticate(ctx context.Context, email, pwd string) (Account, error) {
	acc, err := p.repo.GetAccount(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Account{}, ErrInvalidCredential
		}
		return Account{}, errors.Wrap(err, "finding account by email")
	}
	if err = acc.CheckPassword(pwd); err != nil || !acc.IsActive {
		return Account{}, ErrInvalidCredential
	}
	acc.LastLogin = time.Now().UTC()
	return p.repo.UpdateAccount(ctx, acc)
}

func (p *Provisioner) GetByID(ctx context.Context, id string) (Account, error) {
	return p.repo.GetAccount(ctx, GetFilter{ID: id})
}

func (p *Provisioner) GetByEmail(ctx context.Context, email string) (Account, error) {
	return p.repo.GetAccount(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

// Find returns the Account matching filter.
func (p *Provisioner) Find(ctx context.Context, filter GetFilter) (Account, error) {
	return p.repo.GetAccount(ctx, filter)
}

func (p *Provisioner) Query(ctx context.Context, filter QueryFilter) ([]Account, error) {
	return p.repo.QueryAccounts(ctx, filter)
}

// ResetTicket is what a password reset mail carries.
type ResetTicket struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// RequestPasswordReset mails a reset link to the account owning email and returns the ticket it carries.
func (p *Provisioner) RequestPasswordReset(ctx context.Context, email string) (ResetTicket, error) {
	acc, err := p.GetByEmail(ctx, email)
	if err != nil {
		return ResetTicket{}, err
	}
	if !acc.IsActive {
		return ResetTicket{}, ErrNotFound
	}

	ticket := ResetTicket{UID: EncodeUID(acc), Token: p.tokens.MakeToken(acc)}
	p.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: acc.Name, Address: acc.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]string{
			"Name":  acc.Name,
			"UID":   ticket.UID,
			"Token": ticket.Token,
		},
	})
	return ticket, nil
}

// ResetPassword completes a reset started by RequestPasswordReset.
func (p *Provisioner) ResetPassword(ctx context.Context, rp ResetPassword) (Account, error) {
	if err := rp.Validate(p.validate); err != nil {
		return Account{}, err
	}
	id, err := DecodeUID(rp.UID)
	if err != nil {
		return Account{}, err
	}
	acc, err := p.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Account{}, ErrResetTokenInvalid
		}
		return Account{}, errors.Wrap(err, "finding account by ID")
	}
	if err = p.tokens.VerifyToken(acc, rp.Token); err != nil {
		return Account{}, err
	}
	pc := passwordChange{Password: rp.Password, Name: acc.Name, Email: acc.Email, field: "password"}
	if err = p.validate.Struct(pc); err != nil {
		return Account{}, err
	}
	acc, err = p.SetPassword(ctx, acc, rp.Password)
	if err != nil {
		return Account{}, errors.Wrap(err, fmt.Sprintf("resetting password of %s", id))
	}
	return acc, nil
}

package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/hilcoe/rms/core/account"
)

const accountColumns = `id, email, phone, name, password_hash, role, student_id, supervisor_id, is_active,
	created_at, updated_at, last_login`

type accountRow struct {
	ID           string      `db:"id"`
	Email        string      `db:"email"`
	Phone        string      `db:"phone"`
	Name         string      `db:"name"`
	PasswordHash []byte      `db:"password_hash"`
	Role         string      `db:"role"`
	StudentID    null.String `db:"student_id"`
	SupervisorID null.String `db:"supervisor_id"`
	IsActive     bool        `db:"is_active"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	LastLogin    null.Time   `db:"last_login"`
}

func toAccountRow(acc account.Account) accountRow {
	return accountRow{
		ID:           acc.ID,
		Email:        acc.Email,
		Phone:        acc.Phone,
		Name:         acc.Name,
		PasswordHash: acc.PasswordHash,
		Role:         acc.Role,
		StudentID:    null.NewString(acc.StudentID, acc.StudentID != ""),
		SupervisorID: null.NewString(acc.SupervisorID, acc.SupervisorID != ""),
		IsActive:     acc.IsActive,
		CreatedAt:    acc.CreatedAt.UTC(),
		UpdatedAt:    acc.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(acc.LastLogin.UTC(), !acc.LastLogin.IsZero()),
	}
}

func (r accountRow) account() account.Account {
	acc := account.Account{
		ID:           r.ID,
		Email:        r.Email,
		Phone:        r.Phone,
		Name:         r.Name,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		StudentID:    r.StudentID.String,
		SupervisorID: r.SupervisorID.String,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		acc.LastLogin = r.LastLogin.Time.UTC()
	}
	return acc
}

type accountRepository struct {
	db *sqlx.DB
}

var _ account.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db *sqlx.DB) *accountRepository {
	return &accountRepository{db: db}
}

// trapUniqueErr maps unique violations on the account table to domain errors.
func (repo accountRepository) trapUniqueErr(err error, msg string) error {
	if code, constraint := violation(err); code == uniqueViolation {
		switch constraint {
		case "ux_users_email":
			return account.ErrEmailTaken
		case "ux_accounts_student_id":
			return account.ErrStudentLinked
		}
	}
	return errors.Wrap(err, msg)
}

func (repo accountRepository) CreateAccount(ctx context.Context, acc account.Account) (account.Account, error) {
	q := `INSERT INTO accounts (` + accountColumns + `)
		VALUES (:id, :email, :phone, :name, :password_hash, :role, :student_id, :supervisor_id, :is_active,
			:created_at, :updated_at, :last_login)
		RETURNING ` + accountColumns

	q, args, err := sqlx.Named(q, toAccountRow(acc))
	if err != nil {
		return account.Account{}, errors.Wrap(err, "binding account")
	}
	exec := executor(ctx, repo.db)
	var row accountRow
	if err = sqlx.GetContext(ctx, exec, &row, exec.Rebind(q), args...); err != nil {
		return account.Account{}, repo.trapUniqueErr(err, "inserting account")
	}
	return row.account(), nil
}

func (repo accountRepository) GetAccount(ctx context.Context, filter account.GetFilter) (account.Account, error) {
	var (
		where string
		arg   string
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return account.Account{}, account.ErrNotFound
		}
		where, arg = "id = $1", filter.ID
	case filter.Email != "":
		where, arg = "lower(email) = lower($1)", filter.Email
	case filter.StudentID != "":
		where, arg = "lower(student_id) = lower($1)", filter.StudentID
	case filter.SupervisorID != "":
		where, arg = "lower(supervisor_id) = lower($1)", filter.SupervisorID
	default:
		return account.Account{}, account.ErrNotFound
	}

	var row accountRow
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where + ` ORDER BY created_at LIMIT 1`
	if err := sqlx.GetContext(ctx, executor(ctx, repo.db), &row, q, arg); err != nil {
		return account.Account{}, trapNoRowsErr(err, account.ErrNotFound, "finding account")
	}
	return row.account(), nil
}

func (repo accountRepository) QueryAccounts(ctx context.Context, filter account.QueryFilter) ([]account.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts`
	var args []interface{}
	if len(filter.Roles) > 0 {
		q += ` WHERE role = ANY($1)`
		args = append(args, pq.Array(filter.Roles))
	}
	q += ` ORDER BY name, email`

	var rows []accountRow
	if err := sqlx.SelectContext(ctx, executor(ctx, repo.db), &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying accounts")
	}
	accounts := make([]account.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.account())
	}
	return accounts, nil
}

func (repo accountRepository) UpdateAccount(ctx context.Context, acc account.Account) (account.Account, error) {
	q := `UPDATE accounts SET email = :email, phone = :phone, name = :name, password_hash = :password_hash,
			role = :role, is_active = :is_active, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id
		RETURNING ` + accountColumns

	q, args, err := sqlx.Named(q, toAccountRow(acc))
	if err != nil {
		return account.Account{}, errors.Wrap(err, "binding account")
	}
	exec := executor(ctx, repo.db)
	var row accountRow
	if err = sqlx.GetContext(ctx, exec, &row, exec.Rebind(q), args...); err != nil {
		if code, _ := violation(err); code == uniqueViolation {
			return account.Account{}, repo.trapUniqueErr(err, "updating account")
		}
		return account.Account{}, trapNoRowsErr(err, account.ErrNotFound, "updating account")
	}
	return row.account(), nil
}

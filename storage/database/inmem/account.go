package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/hilcoe/rms/core/account"
)

type accountRepository struct {
	db *DB
}

var _ account.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db *DB) *accountRepository {
	return &accountRepository{db: db}
}

// checkUnique enforces the unique email and student link of accounts, ignoring the account with exclID.
func (repo *accountRepository) checkUnique(t *tables, acc account.Account, exclID string) error {
	for id, a := range t.accounts {
		if id == exclID {
			continue
		}
		if strings.EqualFold(a.Email, acc.Email) {
			return account.ErrEmailTaken
		}
		if acc.StudentID != "" && strings.EqualFold(a.StudentID, acc.StudentID) {
			return account.ErrStudentLinked
		}
	}
	return nil
}

func (repo *accountRepository) CreateAccount(ctx context.Context, acc account.Account) (account.Account, error) {
	err := repo.db.run(ctx, func(t *tables) error {
		if err := repo.checkUnique(t, acc, ""); err != nil {
			return err
		}
		t.accounts[acc.ID] = acc
		return nil
	})
	if err != nil {
		return account.Account{}, err
	}
	return acc, nil
}

func (repo *accountRepository) GetAccount(ctx context.Context, filter account.GetFilter) (account.Account, error) {
	var (
		acc   account.Account
		found bool
	)
	_ = repo.db.run(ctx, func(t *tables) error {
		if filter.ID != "" {
			acc, found = t.accounts[filter.ID]
			return nil
		}
		match := func(a account.Account) bool {
			switch {
			case filter.Email != "":
				return strings.EqualFold(a.Email, filter.Email)
			case filter.StudentID != "":
				return strings.EqualFold(a.StudentID, filter.StudentID)
			case filter.SupervisorID != "":
				return strings.EqualFold(a.SupervisorID, filter.SupervisorID)
			}
			return false
		}
		// oldest match first, as the SQL store does
		for _, a := range t.accounts {
			if match(a) && (!found || a.CreatedAt.Before(acc.CreatedAt)) {
				acc, found = a, true
			}
		}
		return nil
	})
	if !found {
		return account.Account{}, account.ErrNotFound
	}
	return acc, nil
}

func (repo *accountRepository) QueryAccounts(ctx context.Context, filter account.QueryFilter) ([]account.Account, error) {
	accounts := make([]account.Account, 0)
	_ = repo.db.run(ctx, func(t *tables) error {
		for _, a := range t.accounts {
			if len(filter.Roles) == 0 || a.HasRole(filter.Roles...) {
				accounts = append(accounts, a)
			}
		}
		return nil
	})
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Name != accounts[j].Name {
			return accounts[i].Name < accounts[j].Name
		}
		return accounts[i].Email < accounts[j].Email
	})
	return accounts, nil
}

func (repo *accountRepository) UpdateAccount(ctx context.Context, acc account.Account) (account.Account, error) {
	err := repo.db.run(ctx, func(t *tables) error {
		orig, ok := t.accounts[acc.ID]
		if !ok {
			return account.ErrNotFound
		}
		if err := repo.checkUnique(t, account.Account{Email: acc.Email}, acc.ID); err != nil {
			return err
		}
		// the links are set once, at creation
		acc.StudentID = orig.StudentID
		acc.SupervisorID = orig.SupervisorID
		acc.CreatedAt = orig.CreatedAt
		t.accounts[acc.ID] = acc
		return nil
	})
	if err != nil {
		return account.Account{}, err
	}
	return acc, nil
}

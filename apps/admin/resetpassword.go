package main

import (
	"context"
	"fmt"

	"github.com/hilcoe/rms/core/account"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	acc, err := cli.accounts.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if _, err = cli.accounts.SetPassword(ctx, acc, pwd); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Password of %s reset.\n", acc.Email)
	return nil
}

// createAccount bootstraps staff accounts. Researchers register through verification, supervisors with addsupervisor.
func (cli *commandLine) createAccount(na account.NewAccount) error {
	switch na.Role {
	case account.RoleResearcher, account.RoleSupervisor:
		return fmt.Errorf("%s accounts cannot be created here", na.Role)
	}
	acc, err := cli.accounts.Create(context.Background(), na)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s account %s created (%s).\n", acc.Role, acc.Email, acc.ID)
	return nil
}

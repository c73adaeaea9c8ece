package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core/account"
)

// roleMiddleware lets through active accounts holding one of roles.
func roleMiddleware(accounts *account.Provisioner, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			acc, err := getContextAccount(ctx, accounts)
			if err != nil {
				return errors.Wrap(err, "getting context account")
			}
			if len(roles) == 0 || acc.HasRole(roles...) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func managerMiddleware(accounts *account.Provisioner) echo.MiddlewareFunc {
	return roleMiddleware(accounts, account.ManagerRoles...)
}

// activeMiddleware rejects tokens of deleted or deactivated accounts.
func activeMiddleware(accounts *account.Provisioner) echo.MiddlewareFunc {
	return roleMiddleware(accounts)
}

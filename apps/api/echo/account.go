package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/roster"
)

type authApi struct {
	accounts *account.Provisioner
	roster   *roster.Service
	auth     *authenticator
	validate *validator.Validate
	conf     *core.Config
	observe  func(outcome string)
}

func registerAuthAPI(e *echo.Echo, jwt echo.MiddlewareFunc, s *Server) {
	api := authApi{
		accounts: s.deps.Accounts,
		roster:   s.deps.Roster,
		auth:     s.auth,
		validate: s.deps.Validate,
		conf:     s.deps.Conf,
		observe:  func(string) {},
	}
	if s.deps.Metrics != nil {
		api.observe = s.deps.Metrics.Verification
	}

	g := e.Group("/auth")

	// un-authed endpoints
	g.POST("/verify", api.verify)
	g.POST("/register", api.register)
	g.POST("/login", api.login)
	g.POST("/reset/request", api.requestPasswordReset)
	g.POST("/reset/confirm", api.confirmPasswordReset)

	// authed endpoints
	ag := g.Group("", jwt, activeMiddleware(api.accounts))
	ag.GET("/me", api.me)
	ag.POST("/refresh", api.refreshToken)
	ag.POST("/password", api.changePassword)
}

// Handlers

func (api *authApi) verify(ctx echo.Context) error {
	var data roster.VerifyRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyRequest")
	}

	res, err := api.roster.Verify(ctx.Request().Context(), data)
	if err != nil {
		if reason, ok := core.ReasonOf(err); ok {
			api.observe(string(reason))
		} else {
			api.observe("invalid")
		}
		return err
	}
	if res.AlreadyRegistered {
		api.observe("already_registered")
	} else {
		api.observe("issued")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *authApi) register(ctx echo.Context) error {
	var data roster.RegisterRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RegisterRequest")
	}

	acc, err := api.roster.Register(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	token, err := api.auth.GenerateToken(acc)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusCreated, LoginResponse{Token: token, Account: &acc})
}

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	acc, err := api.accounts.Authenticate(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return err
	}
	token, err := api.auth.GenerateToken(acc)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, Account: &acc})
}

func (api *authApi) me(ctx echo.Context) error {
	acc, err := getContextAccount(ctx, api.accounts)
	if err != nil {
		return errors.Wrap(err, "getting context account")
	}
	return ctx.JSON(http.StatusOK, acc)
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	token, err := api.auth.refreshToken(ctx, api.accounts)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *authApi) changePassword(ctx echo.Context) error {
	var data PasswordChangeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordChangeRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	acc, err := getContextAccount(ctx, api.accounts)
	if err != nil {
		return errors.Wrap(err, "getting context account")
	}
	if _, err = api.accounts.ChangePassword(ctx.Request().Context(), acc, data.CurrentPassword, data.NewPassword); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been changed."})
}

func (api *authApi) requestPasswordReset(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res := PasswordResetResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	}
	ticket, err := api.accounts.RequestPasswordReset(ctx.Request().Context(), data.Email)
	switch {
	case err == nil:
		if api.conf.Verification.ExposeResetToken {
			res.Ticket = &ticket
		}
	case errors.Cause(err) != account.ErrNotFound:
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *authApi) confirmPasswordReset(ctx echo.Context) error {
	var data account.ResetPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetPassword")
	}
	if data.PasswordConfirm == "" {
		data.PasswordConfirm = data.Password
	}

	if _, err := api.accounts.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token   string           `json:"token"`
		Account *account.Account `json:"account,omitempty"`
	}

	PasswordChangeRequest struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	PasswordResetResponse struct {
		Success string `json:"success"`
		// Ticket is only echoed when verification.exposeResetToken is on.
		Ticket *account.ResetTicket `json:"ticket,omitempty"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}

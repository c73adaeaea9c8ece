package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/supervision"
)

type supervisionApi struct {
	arb      *supervision.Arbiter
	accounts *account.Provisioner
}

func registerSupervisionAPI(e *echo.Echo, jwt echo.MiddlewareFunc, s *Server) {
	api := supervisionApi{arb: s.deps.Arbiter, accounts: s.deps.Accounts}

	g := e.Group("/supervisors", jwt, managerMiddleware(api.accounts))
	g.GET("", api.query)
	g.POST("", api.create)
	g.GET("/available", api.listAvailable)
	g.GET("/specializations", api.specializations)
	g.POST("/assign", api.assign)
	g.POST("/unassign", api.unassign)
	g.GET("/students/:studentId", api.student)
	g.GET("/:id", api.retrieve)
	g.PATCH("/:id", api.update)
	g.DELETE("/:id", api.destroy)

	mg := e.Group("/milestones", jwt, roleMiddleware(api.accounts, append([]string{account.RoleSupervisor}, account.ManagerRoles...)...))
	mg.POST("/notify", api.notifyMilestone)
}

func (api *supervisionApi) actor(ctx echo.Context) (supervision.Actor, error) {
	acc, err := getContextAccount(ctx, api.accounts)
	if err != nil {
		return supervision.Actor{}, errors.Wrap(err, "getting context account")
	}
	return supervision.Actor{AccountID: acc.ID, Name: acc.Name}, nil
}

// Handlers

func (api *supervisionApi) query(ctx echo.Context) error {
	filter := new(supervision.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return core.NewValidationError(errors.New("invalid query parameters"))
	}
	filter.Clean()

	profiles, total, err := api.arb.Query(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying supervisors")
	}
	if profiles == nil {
		profiles = []supervision.Profile{}
	}
	return ctx.JSON(http.StatusOK, newPageResponse(profiles, total, filter.Page))
}

func (api *supervisionApi) create(ctx echo.Context) error {
	var data supervision.NewProfile
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProfile")
	}
	profile, acc, err := api.arb.CreateSupervisor(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, SupervisorResponse{Profile: profile, Account: acc})
}

func (api *supervisionApi) listAvailable(ctx echo.Context) error {
	profiles, err := api.arb.ListAvailable(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing available supervisors")
	}
	if profiles == nil {
		profiles = []supervision.Profile{}
	}
	return ctx.JSON(http.StatusOK, ItemsResponse{Items: profiles})
}

func (api *supervisionApi) specializations(ctx echo.Context) error {
	specs, err := api.arb.Specializations(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing specializations")
	}
	return ctx.JSON(http.StatusOK, ItemsResponse{Items: specs})
}

func (api *supervisionApi) assign(ctx echo.Context) error {
	var data supervision.AssignRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AssignRequest")
	}
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	student, err := api.arb.Assign(ctx.Request().Context(), data, actor)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, student)
}

func (api *supervisionApi) unassign(ctx echo.Context) error {
	var data supervision.UnassignRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UnassignRequest")
	}
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	student, err := api.arb.Unassign(ctx.Request().Context(), data, actor)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, student)
}

func (api *supervisionApi) student(ctx echo.Context) error {
	student, err := api.arb.GetStudent(ctx.Request().Context(), ctx.Param("studentId"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, student)
}

func (api *supervisionApi) retrieve(ctx echo.Context) error {
	profile, err := api.arb.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, profile)
}

func (api *supervisionApi) update(ctx echo.Context) error {
	var data supervision.UpdateProfile
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProfile")
	}
	profile, err := api.arb.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, profile)
}

func (api *supervisionApi) destroy(ctx echo.Context) error {
	actor, err := api.actor(ctx)
	if err != nil {
		return err
	}
	affected, err := api.arb.DeleteSupervisor(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return err
	}
	unassigned := make([]string, 0, len(affected))
	for _, s := range affected {
		unassigned = append(unassigned, s.StudentID)
	}
	return ctx.JSON(http.StatusOK, DeleteSupervisorResponse{Unassigned: unassigned})
}

func (api *supervisionApi) notifyMilestone(ctx echo.Context) error {
	var data supervision.MilestoneUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MilestoneUpdate")
	}
	acc, err := getContextAccount(ctx, api.accounts)
	if err != nil {
		return errors.Wrap(err, "getting context account")
	}
	if err = api.arb.NotifyMilestone(ctx.Request().Context(), data, acc); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusAccepted)
}

type (
	ItemsResponse struct {
		Items interface{} `json:"items"`
	}

	SupervisorResponse struct {
		Profile supervision.Profile `json:"profile"`
		Account account.Account     `json:"account"`
	}

	DeleteSupervisorResponse struct {
		// Unassigned lists the students whose assignment the deletion cleared.
		Unassigned []string `json:"unassigned"`
	}
)

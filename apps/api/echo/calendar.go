package echoapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/calendar"
)

type calendarApi struct {
	agg      *calendar.Aggregator
	accounts *account.Provisioner
}

func registerCalendarAPI(e *echo.Echo, jwt echo.MiddlewareFunc, s *Server) {
	api := calendarApi{agg: s.deps.Calendar, accounts: s.deps.Accounts}

	g := e.Group("/calendar", jwt, activeMiddleware(api.accounts))
	g.GET("", api.query)
	g.GET("/:id", api.retrieve)
	g.GET("/:id/ics", api.calendarFile)
}

// Handlers

func (api *calendarApi) query(ctx echo.Context) error {
	q, err := api.bindQuery(ctx)
	if err != nil {
		return err
	}

	events, err := api.agg.Query(ctx.Request().Context(), q)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, CalendarResponse{Items: events, Conflicts: calendar.DetectConflicts(events)})
}

func (api *calendarApi) retrieve(ctx echo.Context) error {
	event, err := api.agg.Event(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, event)
}

func (api *calendarApi) calendarFile(ctx echo.Context) error {
	event, err := api.agg.Event(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+calendar.FileName(event)+`"`)
	return ctx.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(api.agg.ToCalendarFile(event)))
}

func (api *calendarApi) bindQuery(ctx echo.Context) (calendar.Query, error) {
	var (
		q    calendar.Query
		err  error
		loc  = api.agg.Location()
		fErr = func(field, msg string) error {
			return core.NewValidationError(nil, core.FieldError{Field: field, Error: msg})
		}
	)

	if q.From, err = calendar.ParseBound(ctx.QueryParam("from"), loc, false); err != nil {
		return q, fErr("from", err.Error())
	}
	if q.To, err = calendar.ParseBound(ctx.QueryParam("to"), loc, true); err != nil {
		return q, fErr("to", err.Error())
	}
	q.Role = strings.TrimSpace(ctx.QueryParam("role"))
	q.Venue = strings.TrimSpace(ctx.QueryParam("venue"))

	for _, t := range splitList(ctx.QueryParams()["types"]) {
		typ := calendar.EventType(strings.ToLower(t))
		switch typ {
		case calendar.TypeSynopsis, calendar.TypeDefense, calendar.TypeOther:
			q.Types = append(q.Types, typ)
		default:
			return q, fErr("types", "unknown event type "+strconv.Quote(t))
		}
	}
	q.People = splitList(ctx.QueryParams()["people"])

	if s := ctx.QueryParam("includeCancelled"); s != "" {
		if q.IncludeCancelled, err = strconv.ParseBool(s); err != nil {
			return q, fErr("includeCancelled", "must be true or false")
		}
	}
	if s := ctx.QueryParam("mine"); s != "" {
		mine, err := strconv.ParseBool(s)
		if err != nil {
			return q, fErr("mine", "must be true or false")
		}
		if mine {
			acc, err := getContextAccount(ctx, api.accounts)
			if err != nil {
				return q, errors.Wrap(err, "getting context account")
			}
			q.Mine, q.MineEmail = acc.ID, acc.Email
		}
	}
	return q, nil
}

// splitList flattens repeated and comma separated query values.
func splitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type CalendarResponse struct {
	Items     []calendar.Event    `json:"items"`
	Conflicts []calendar.Conflict `json:"conflicts"`
}

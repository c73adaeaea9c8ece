package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/roster"
	"github.com/hilcoe/rms/services/rosterfile"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type rosterApi struct {
	svc *roster.Service
}

func registerRosterAPI(e *echo.Echo, jwt echo.MiddlewareFunc, s *Server) {
	api := rosterApi{svc: s.deps.Roster}

	g := e.Group("/roster", jwt, managerMiddleware(s.deps.Accounts))
	g.GET("", api.query)
	g.POST("", api.create)
	g.GET("/export", api.export)
	g.POST("/import", api.importEntries)
	g.GET("/:studentId", api.retrieve)
	g.PATCH("/:studentId", api.update)
	g.DELETE("/:studentId", api.destroy)
}

// Handlers

func (api *rosterApi) query(ctx echo.Context) error {
	filter := new(roster.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return core.NewValidationError(errors.New("invalid query parameters"))
	}
	filter.Clean()

	entries, total, err := api.svc.Query(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying roster")
	}
	if entries == nil {
		entries = []roster.Entry{}
	}
	return ctx.JSON(http.StatusOK, newPageResponse(entries, total, filter.Page))
}

func (api *rosterApi) create(ctx echo.Context) error {
	var data roster.NewEntry
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEntry")
	}
	entry, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, entry)
}

func (api *rosterApi) retrieve(ctx echo.Context) error {
	entry, err := api.svc.Get(ctx.Request().Context(), ctx.Param("studentId"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, entry)
}

func (api *rosterApi) update(ctx echo.Context) error {
	var data roster.UpdateEntry
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateEntry")
	}
	entry, err := api.svc.Update(ctx.Request().Context(), ctx.Param("studentId"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, entry)
}

func (api *rosterApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("studentId")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// importEntries accepts either {"entries": [...]} or a multipart "file" holding an .xlsx or .csv roster.
func (api *rosterApi) importEntries(ctx echo.Context) error {
	var rows []roster.NewEntry

	if strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := ctx.FormFile("file")
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "file", Error: "a roster file is required"})
		}
		f, err := fh.Open()
		if err != nil {
			return errors.Wrap(err, "opening uploaded roster")
		}
		//goland:noinspection GoUnhandledErrorResult
		defer f.Close()

		if rows, err = rosterfile.Read(f, fh.Filename); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "file", Error: err.Error()})
		}
	} else {
		var data ImportRequest
		if err := ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to ImportRequest")
		}
		rows = data.Entries
	}

	res, err := api.svc.Import(ctx.Request().Context(), rows)
	if err != nil {
		return errors.Wrap(err, "importing roster")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *rosterApi) export(ctx echo.Context) error {
	filter := roster.QueryFilter{Page: core.Page{Page: 1, Limit: core.MaxPageLimit}}
	if err := ctx.Bind(&filter); err != nil {
		return core.NewValidationError(errors.New("invalid query parameters"))
	}
	filter.Search = core.CleanString(filter.Search)
	filter.Limit = core.MaxPageLimit

	var all []roster.Entry
	for filter.Page.Page = 1; ; filter.Page.Page++ {
		entries, total, err := api.svc.Query(ctx.Request().Context(), filter)
		if err != nil {
			return errors.Wrap(err, "querying roster")
		}
		all = append(all, entries...)
		if len(entries) == 0 || len(all) >= total {
			break
		}
	}

	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="roster.xlsx"`)
	ctx.Response().Header().Set(echo.HeaderContentType, xlsxMIME)
	ctx.Response().WriteHeader(http.StatusOK)
	return rosterfile.WriteXLSX(ctx.Response(), all)
}

type ImportRequest struct {
	Entries []roster.NewEntry `json:"entries"`
}

// PageResponse is one page of a listing.
type PageResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

func newPageResponse(items interface{}, total int, page core.Page) PageResponse {
	return PageResponse{Items: items, Total: total, Page: page.Page, Limit: page.Limit}
}

package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hilcoe/rms/core"
	"github.com/hilcoe/rms/core/account"
	"github.com/hilcoe/rms/core/notification"
)

const defaultHeartbeat = 25 * time.Second

type notificationApi struct {
	bus       *notification.Bus
	accounts  *account.Provisioner
	heartbeat time.Duration
	closing   <-chan struct{}
}

func registerNotificationAPI(e *echo.Echo, jwt echo.MiddlewareFunc, s *Server) {
	api := notificationApi{
		bus:       s.deps.Bus,
		accounts:  s.deps.Accounts,
		heartbeat: s.deps.Conf.Server.StreamHeartbeat,
		closing:   s.closing,
	}
	if api.heartbeat <= 0 {
		api.heartbeat = defaultHeartbeat
	}

	// the stream authenticates with a query parameter
	e.GET("/notifications/stream", api.stream, s.auth.streamMiddleware(), activeMiddleware(api.accounts))

	g := e.Group("/notifications", jwt, activeMiddleware(api.accounts))
	g.GET("", api.list)
	g.DELETE("", api.clear)
	g.PATCH("/read-all", api.markAllRead)
	g.PATCH("/:id/read", api.markRead)
}

func (api *notificationApi) recipient(ctx echo.Context) (string, error) {
	acc, err := getContextAccount(ctx, api.accounts)
	if err != nil {
		return "", errors.Wrap(err, "getting context account")
	}
	return acc.ID, nil
}

// Handlers

func (api *notificationApi) list(ctx echo.Context) error {
	recipientID, err := api.recipient(ctx)
	if err != nil {
		return err
	}

	var since *time.Time
	if s := strings.TrimSpace(ctx.QueryParam("since")); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "since", Error: "must be an RFC 3339 time"})
		}
		since = &t
	}

	rctx := ctx.Request().Context()
	items, err := api.bus.List(rctx, recipientID, since)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	if items == nil {
		items = []notification.Notification{}
	}
	unread, err := api.bus.CountUnread(rctx, recipientID)
	if err != nil {
		return errors.Wrap(err, "counting unread notifications")
	}
	return ctx.JSON(http.StatusOK, NotificationsResponse{Items: items, Unread: unread})
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	recipientID, err := api.recipient(ctx)
	if err != nil {
		return err
	}
	n, err := api.bus.MarkRead(ctx.Request().Context(), recipientID, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, n)
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	recipientID, err := api.recipient(ctx)
	if err != nil {
		return err
	}
	n, err := api.bus.MarkAllRead(ctx.Request().Context(), recipientID)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

func (api *notificationApi) clear(ctx echo.Context) error {
	recipientID, err := api.recipient(ctx)
	if err != nil {
		return err
	}
	n, err := api.bus.Clear(ctx.Request().Context(), recipientID)
	if err != nil {
		return errors.Wrap(err, "clearing notifications")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

// stream pushes the caller's notifications as server-sent events until the client goes away.
// Missed events are recovered by listing.
func (api *notificationApi) stream(ctx echo.Context) error {
	recipientID, err := api.recipient(ctx)
	if err != nil {
		return err
	}

	sub := api.bus.Subscribe(recipientID)
	defer sub.Close()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if _, err = fmt.Fprint(res, "retry: 5000\n\n"); err != nil {
		return nil
	}
	res.Flush()

	ticker := time.NewTicker(api.heartbeat)
	defer ticker.Stop()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case <-api.closing:
			return nil
		case <-ticker.C:
			if _, err = fmt.Fprint(res, "event: ping\ndata: {}\n\n"); err != nil {
				return nil
			}
		case n, ok := <-sub.C():
			if !ok {
				return nil
			}
			data, err := json.Marshal(n)
			if err != nil {
				ctx.Logger().Errorf("encoding notification %s: %v", n.ID, err)
				continue
			}
			if _, err = fmt.Fprintf(res, "id: %s\nevent: notification\ndata: %s\n\n", n.ID, data); err != nil {
				return nil
			}
		}
		res.Flush()
	}
}

type (
	NotificationsResponse struct {
		Items  []notification.Notification `json:"items"`
		Unread int                         `json:"unread"`
	}

	CountResponse struct {
		Count int `json:"count"`
	}
)

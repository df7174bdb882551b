package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core/availability"
)

type availabilityApi struct {
	svc *availability.Service
}

func registerAvailabilityAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc *availability.Service) {
	api := availabilityApi{svc: svc}

	ag := g.Group("/availabilities", authed...)
	ag.GET("", api.query)
	ag.POST("", api.create)
	ag.DELETE("/:id", api.destroy)
}

func (api *availabilityApi) query(ctx echo.Context) error {
	sess := getSession(ctx)
	avs, err := api.svc.List(ctx.Request().Context(), sess, sess.UserID)
	if err != nil {
		return errors.Wrap(err, "listing availabilities")
	}
	if avs == nil {
		avs = []availability.Availability{}
	}
	return ctx.JSON(http.StatusOK, avs)
}

func (api *availabilityApi) create(ctx echo.Context) error {
	var data availability.NewAvailability
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAvailability")
	}

	av, err := api.svc.Add(ctx.Request().Context(), getSession(ctx), data)
	if err != nil {
		return errors.Wrap(err, "adding availability")
	}
	return ctx.JSON(http.StatusCreated, av)
}

func (api *availabilityApi) destroy(ctx echo.Context) error {
	if err := api.svc.Remove(ctx.Request().Context(), getSession(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "removing availability")
	}
	return ctx.NoContent(http.StatusNoContent)
}

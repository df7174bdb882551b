package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
)

type groupApi struct {
	groups   *group.Service
	matching *matching.Service
}

func registerGroupAPI(g *echo.Group, authed []echo.MiddlewareFunc, groups *group.Service, matchingSvc *matching.Service) {
	api := groupApi{groups: groups, matching: matchingSvc}

	gg := g.Group("/groups", authed...)
	gg.GET("/matching", api.queryMatching)
	gg.GET("/mine", api.queryMine)
	gg.POST("/:id/join", api.join)
}

func (api *groupApi) queryMatching(ctx echo.Context) error {
	return readResult(ctx, api.matching.MatchingGroups(ctx.Request().Context(), getSession(ctx)))
}

func (api *groupApi) queryMine(ctx echo.Context) error {
	return readResult(ctx, api.groups.MyGroups(ctx.Request().Context(), getSession(ctx)))
}

func (api *groupApi) join(ctx echo.Context) error {
	m, err := api.groups.Join(ctx.Request().Context(), getSession(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "joining group")
	}
	return ctx.JSON(http.StatusCreated, m)
}

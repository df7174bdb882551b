package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

type adminDeps struct {
	profiles      *profile.Service
	groups        *group.Service
	matching      *matching.Service
	notifications *notification.Service
}

type adminApi struct {
	adminDeps
}

func registerAdminAPI(g *echo.Group, authed []echo.MiddlewareFunc, deps adminDeps) {
	api := adminApi{deps}

	mw := append(append([]echo.MiddlewareFunc{}, authed...), adminMiddleware())
	ag := g.Group("/admin", mw...)

	ag.GET("/stats", api.stats)

	gg := ag.Group("/groups")
	gg.GET("/pending", api.queryPending)
	gg.GET("/active", api.queryActive)
	gg.POST("/:id/activate", api.activate)
	gg.POST("/:id/complete", api.complete)
	gg.POST("/:id/notify", api.notify)

	mg := ag.Group("/matching")
	mg.GET("/compatible", api.queryCompatible)
	mg.POST("/run", api.runMatching)

	sg := ag.Group("/students")
	sg.GET("", api.queryStudents)
	sg.GET("/:id", api.retrieveStudent)
	sg.DELETE("/:id", api.destroyStudent)
}

func (api *adminApi) stats(ctx echo.Context) error {
	stats, err := api.groups.Stats(ctx.Request().Context(), getSession(ctx))
	if err != nil {
		return errors.Wrap(err, "counting stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *adminApi) queryPending(ctx echo.Context) error {
	groups, err := api.groups.PendingWithStudents(ctx.Request().Context(), getSession(ctx))
	if err != nil {
		return errors.Wrap(err, "querying pending groups")
	}
	if groups == nil {
		groups = []group.PendingGroup{}
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *adminApi) queryActive(ctx echo.Context) error {
	groups, err := api.groups.Active(ctx.Request().Context(), getSession(ctx))
	if err != nil {
		return errors.Wrap(err, "querying active groups")
	}
	if groups == nil {
		groups = []group.ActiveGroup{}
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *adminApi) activate(ctx echo.Context) error {
	var data group.ActivateGroup
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ActivateGroup")
	}

	res, err := api.groups.Activate(ctx.Request().Context(), getSession(ctx), ctx.Param("id"), data.ChatLink)
	if err != nil {
		return errors.Wrap(err, "activating group")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *adminApi) complete(ctx echo.Context) error {
	g, err := api.groups.Complete(ctx.Request().Context(), getSession(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "completing group")
	}
	return ctx.JSON(http.StatusOK, g)
}

func (api *adminApi) notify(ctx echo.Context) error {
	report, err := api.notifications.Notify(ctx.Request().Context(), getSession(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "notifying group")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *adminApi) queryCompatible(ctx echo.Context) error {
	res, err := api.matching.Discover(ctx.Request().Context(), getSession(ctx))
	if err != nil {
		return errors.Wrap(err, "discovering compatible groups")
	}
	return readResult(ctx, res)
}

func (api *adminApi) runMatching(ctx echo.Context) error {
	results, err := api.matching.Commit(ctx.Request().Context(), getSession(ctx))
	if err != nil {
		return errors.Wrap(err, "committing matching")
	}
	return ctx.JSON(http.StatusOK, results)
}

func (api *adminApi) queryStudents(ctx echo.Context) error {
	filter := new(profile.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	res, err := api.groups.Students(ctx.Request().Context(), getSession(ctx), *filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	return readResult(ctx, res)
}

func (api *adminApi) retrieveStudent(ctx echo.Context) error {
	details, err := api.groups.StudentDetails(ctx.Request().Context(), getSession(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student details")
	}
	return ctx.JSON(http.StatusOK, details)
}

func (api *adminApi) destroyStudent(ctx echo.Context) error {
	sess := getSession(ctx)
	p, err := api.profiles.Get(ctx.Request().Context(), sess, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding student")
	}
	if err = api.profiles.Delete(ctx.Request().Context(), sess, p.ID); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

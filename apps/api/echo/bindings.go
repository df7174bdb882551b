package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/gruppenschlau/gruppenschlau/core"
)

const (
	orderingParam = "ordering"

	resultStatusHeader = "X-Result-Status"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// readResult answers a typed read: always 200, degraded results are flagged by a header.
func readResult[T any](ctx echo.Context, res core.ReadResult[T]) error {
	ctx.Response().Header().Set(resultStatusHeader, string(res.Status))
	data := res.Data
	if data == nil {
		data = []T{}
	}
	return ctx.JSON(http.StatusOK, data)
}

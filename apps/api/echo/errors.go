package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/availability"
	"github.com/gruppenschlau/gruppenschlau/core/group"
	"github.com/gruppenschlau/gruppenschlau/core/matching"
	"github.com/gruppenschlau/gruppenschlau/core/notification"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

var (
	errUnauthorized   = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errRefreshExpired = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden  = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound   = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// domainErrorCodes maps the sentinel errors of the core packages to HTTP status codes.
var domainErrorCodes = map[error]int{
	core.ErrForbidden: http.StatusForbidden,

	profile.ErrNotFound:      http.StatusNotFound,
	availability.ErrNotFound: http.StatusNotFound,
	group.ErrNotFound:        http.StatusNotFound,
	notification.ErrNotFound: http.StatusNotFound,

	profile.ErrInvalidCredentials: http.StatusBadRequest,

	group.ErrInvalidTransition:     http.StatusConflict,
	group.ErrNotOpen:               http.StatusConflict,
	group.ErrAlreadyMember:         http.StatusConflict,
	group.ErrGroupFull:             http.StatusConflict,
	matching.ErrStudentAssigned:    http.StatusConflict,
	notification.ErrGroupNotActive: http.StatusConflict,
	notification.ErrNoRecipients:   http.StatusConflict,
	notification.ErrAllFailed:      http.StatusBadGateway,
}

func domainErrorCode(cause error) (int, bool) {
	for sentinel, code := range domainErrorCodes {
		if cause == sentinel {
			return code, true
		}
	}
	return 0, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			if c, ok := domainErrorCode(cause); ok {
				code = c
				message = cause.Error()
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), getSession(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

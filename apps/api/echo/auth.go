package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core"
	"github.com/gruppenschlau/gruppenschlau/core/profile"
)

const (
	contextTokenKey   = "userToken"
	contextProfileKey = "profile"
	audience          = "GruppenSchlau"
)

// Claims represents the authorization claims transmitted via a JWT.
// IsAdmin is informational for clients; the server always re-reads the role from the stored profile.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Email        string `json:"email,omitempty"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
}

// Auth issues and checks the JWTs of the API.
type Auth struct {
	conf       *core.Config
	signingKey []byte
}

func NewAuth(conf *core.Config) *Auth {
	return &Auth{conf: conf, signingKey: []byte(conf.SecretKey)}
}

func (a *Auth) jwtConfig() middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    a.signingKey,
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

func (a *Auth) GetProfileClaims(p profile.Profile, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    a.conf.AppName,
			Subject:   p.ID,
			Audience:  audience,
			ExpiresAt: now.Add(a.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Email:        p.Email,
		IsAdmin:      p.IsAdmin,
	}
}

// GenerateToken generates a signed JWT token string representing the profile Claims.
func (a *Auth) GenerateToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(middleware.AlgorithmHS256), claims)
	ss, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// TokenFor returns a fresh token for `p`.
func (a *Auth) TokenFor(p profile.Profile) (string, error) {
	return a.GenerateToken(a.GetProfileClaims(p))
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextProfile(ctx echo.Context) (profile.Profile, error) {
	if p, ok := ctx.Get(contextProfileKey).(profile.Profile); ok {
		return p, nil
	}
	return profile.Profile{}, errUnauthorized
}

// getSession returns the acting session; anonymous when unauthenticated.
func getSession(ctx echo.Context) core.Session {
	if p, err := getContextProfile(ctx); err == nil {
		return p.Session()
	}
	return core.Session{}
}

func (a *Auth) refreshToken(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}
	p, err := getContextProfile(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context profile")
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(a.conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := a.GenerateToken(a.GetProfileClaims(p, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}

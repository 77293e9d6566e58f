package http

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/cocoa-fruit/primeworks/utils/log"
)

const (
	jwtIssuer  = "primeworks"
	jwtSubject = "primes-api"

	// ClientIDKey is the echo context key holding the authenticated client.
	ClientIDKey = "client_id"
)

type JWTClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 tokens for API and WebSocket clients.
type Authenticator struct {
	secret    []byte
	expiry    time.Duration
	apiKey    string
	apiSecret string
	now       func() time.Time
}

func NewAuthenticator(secret string, expiry time.Duration, apiKey, apiSecret string) *Authenticator {
	return &Authenticator{
		secret:    []byte(secret),
		expiry:    expiry,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		now:       time.Now,
	}
}

// IssueToken exchanges X-API-Key / X-API-Secret for a bearer token. The
// optional X-Client-ID header names the client in logs and claims.
func (a *Authenticator) IssueToken(c echo.Context) error {
	key := c.Request().Header.Get("X-API-Key")
	secret := c.Request().Header.Get("X-API-Secret")

	if subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) != 1 ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(a.apiSecret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}

	clientID := c.Request().Header.Get("X-Client-ID")
	if clientID == "" {
		clientID = key
	}

	tokenString, err := a.Sign(clientID)
	if err != nil {
		log.WithCtx(c.Request().Context()).Error("Error signing JWT", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"token": tokenString,
		"type":  "Bearer",
	})
}

// Sign creates a token for clientID.
func (a *Authenticator) Sign(clientID string) (string, error) {
	now := a.now()
	claims := &JWTClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
			Subject:   jwtSubject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid bearer token. Browsers cannot
// set headers on a WebSocket handshake, so a "token" query parameter is
// accepted as well.
func (a *Authenticator) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenString := c.QueryParam("token")
		if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
			}
		}
		if tokenString == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
		}

		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		}, jwt.WithIssuer(jwtIssuer), jwt.WithTimeFunc(a.now))
		if err != nil {
			log.WithCtx(c.Request().Context()).Debug("JWT validation error", zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok || !token.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
		}

		c.Set(ClientIDKey, claims.ClientID)
		ctx := log.WithValue(c.Request().Context(), log.ClientIDKey, claims.ClientID)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

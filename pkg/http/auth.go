package xhttp

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	claimsKey = "xhttp.claims"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim; tokens are minted with the numeric user id as subject.
func (c *Claims) UserID() int64 {
	id, _ := strconv.ParseInt(c.Subject, 10, 64)
	return id
}

func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

func (a *Authenticator) Mint(userID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID() == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Require rejects requests without a valid bearer token and stores the claims on the request.
func (a *Authenticator) Require(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		claims, err := a.fromRequest(ctx)
		if err != nil {
			writeAuthError(ctx, StatusUnauthorized, err)
			return
		}
		ctx.SetUserValue(claimsKey, claims)
		next(ctx)
	}
}

// RequireRole is Require plus a role check.
func (a *Authenticator) RequireRole(role string, next RequestHandler) RequestHandler {
	return a.Require(func(ctx *RequestCtx) {
		if c := ClaimsFrom(ctx); c == nil || c.Role != role {
			writeAuthError(ctx, StatusForbidden, errors.New("insufficient role"))
			return
		}
		next(ctx)
	})
}

func (a *Authenticator) fromRequest(ctx *RequestCtx) (*Claims, error) {
	hdr := string(ctx.Request.Header.Peek("Authorization"))
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return nil, ErrMissingToken
	}
	return a.Parse(strings.TrimSpace(hdr[7:]))
}

func ClaimsFrom(ctx *RequestCtx) *Claims {
	c, _ := ctx.UserValue(claimsKey).(*Claims)
	return c
}

func writeAuthError(ctx *RequestCtx, status int, err error) {
	writeJSONError(ctx, status, err.Error())
}

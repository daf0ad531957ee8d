// Package auth issues and verifies the bearer tokens the mobile app sends.
// Account management lives in a separate service; this package only knows
// the claims the dispenser core needs.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cast"

	"pillbox-backend/config"
)

const identityKey = "pillbox.identity"

// Identity is the caller of an app request. ConnectionID is zero until the
// user pairs a device.
type Identity struct {
	UserID       int64
	ConnectionID int64
}

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID       int64  `json:"user_id"`
	ConnectionID int64  `json:"connection_id,omitempty"`
	TokenType    string `json:"token_type"`
}

// TokenPair is returned after pairing so the app can pick up the new
// connection id without logging in again.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(cfg config.AuthConfig) *Issuer {
	return &Issuer{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
}

// Issue returns a fresh access and refresh token for the identity.
func (i *Issuer) Issue(userID, connectionID int64) (TokenPair, error) {
	access, err := i.sign(userID, connectionID, "access", i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(userID, connectionID, "refresh", i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(i.accessTTL.Seconds())}, nil
}

func (i *Issuer) sign(userID, connectionID int64, tokenType string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cast.ToString(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:       userID,
		ConnectionID: connectionID,
		TokenType:    tokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// Verify parses an access token.
func (i *Issuer) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid || claims.TokenType != "access" {
		return Identity{}, errors.New("invalid or expired token")
	}
	if claims.UserID == 0 {
		return Identity{}, errors.New("token has no user id")
	}
	return Identity{UserID: claims.UserID, ConnectionID: claims.ConnectionID}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's identity on the gin context.
func (i *Issuer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		id, err := i.Verify(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireConnection rejects callers that have not paired a device yet.
func RequireConnection() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok || id.ConnectionID == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no paired device for this account"})
			return
		}
		c.Next()
	}
}

// FromContext returns the identity set by Middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// WithIdentity stores id on the context. Used by tests and trusted callers.
func WithIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
}

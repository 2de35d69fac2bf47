package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-booking/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// Claims is the identity payload shared by both token kinds.
type Claims struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
	Status  string `json:"status"`
	jwt.RegisteredClaims
}

// Principal converts claims, preferring the "id" claim over "sub". Identity
// providers that do not track account status yield an active principal.
func (c Claims) Principal() (models.Principal, error) {
	userID := c.ID
	if userID == "" {
		userID = c.Subject
	}
	if userID == "" {
		return models.Principal{}, errors.New("token carries neither id nor sub claim")
	}
	status := c.Status
	if status == "" {
		status = "active"
	}
	return models.Principal{
		UserID:  userID,
		Email:   c.Email,
		IsAdmin: c.IsAdmin,
		Status:  status,
	}, nil
}

// HMACAuthenticator verifies tokens signed with a shared secret.
type HMACAuthenticator struct {
	secret []byte
}

func NewHMACAuthenticator(secret string) *HMACAuthenticator {
	return &HMACAuthenticator{secret: []byte(secret)}
}

func (a *HMACAuthenticator) Authenticate(_ context.Context, rawToken string) (models.Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}

	p, err := claims.Principal()
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}
	return p, nil
}

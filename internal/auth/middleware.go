package auth

import (
	"context"
	"fmt"
	"net/http"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const principalKey contextKey = "principal"

// Authenticator turns a bearer token into a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (models.Principal, error)
}

// OIDCAuthenticator verifies ID tokens against an OpenID Connect issuer.
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCAuthenticator(ctx context.Context, issuer string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}

	// SkipClientIDCheck → tokens are issued to the frontend client, not us
	verifier := provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})
	return &OIDCAuthenticator{verifier: verifier}, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, rawToken string) (models.Principal, error) {
	idToken, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return models.Principal{}, fmt.Errorf("%w: parse claims: %v", models.ErrUnauthenticated, err)
	}
	claims.Subject = idToken.Subject

	p, err := claims.Principal()
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}
	return p, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved principal in the request context.
func Middleware(authn Authenticator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Authentication required", err.Error()))
				return
			}

			principal, err := authn.Authenticate(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Authentication required", "invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the caller stored by Middleware.
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}

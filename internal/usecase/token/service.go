// Package token implements the TokenService in-port: basic-auth
// authentication, scope authorization against namespace roles, and
// asymmetric JWT issuance/verification/revocation for the Distribution v2
// bearer-token flow.
package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/boundaries/out"
	"github.com/coreforge/registry/internal/domain"
)

// Service implements in.TokenService.
type Service struct {
	credentials out.CredentialStore
	roles       out.RoleStore
	store       out.TokenStore
	key         out.SignerKeySource
	issuer      string
	audience    string
}

// New creates a TokenService backed by the given credential/role/store/key
// adapters.
func New(credentials out.CredentialStore, roles out.RoleStore, store out.TokenStore, key out.SignerKeySource, issuer, audience string) *Service {
	return &Service{credentials: credentials, roles: roles, store: store, key: key, issuer: issuer, audience: audience}
}

func usecaseCtx(ctx context.Context, name string, fields map[string]any) (context.Context, zerowrap.Logger) {
	merged := map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: name,
	}
	for k, v := range fields {
		merged[k] = v
	}
	ctx = zerowrap.CtxWithFields(ctx, merged)
	return ctx, zerowrap.FromCtx(ctx)
}

// Authenticate verifies basic-auth credentials and resolves them to a
// subject identity.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	return s.credentials.Authenticate(ctx, username, password)
}

// jwtClaims adapts domain.TokenClaims to jwt.Claims via the registered
// numeric-date and standard-claim conventions golang-jwt expects.
type jwtClaims struct {
	jwt.RegisteredClaims
	Access []scopeClaim `json:"access"`
}

type scopeClaim struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

// Authorize narrows requestedScopes to what subject's namespace roles grant
// and signs a bearer token for the narrowed set with the signing method
// matching the signing key's algorithm (ES256, RS256 or PS256).
func (s *Service) Authorize(ctx context.Context, subject string, requestedScopes []domain.Scope, ttl time.Duration) (string, []domain.Scope, error) {
	_, log := usecaseCtx(ctx, "Authorize", map[string]any{"subject": subject})

	granted := make([]domain.Scope, 0, len(requestedScopes))
	for _, req := range requestedScopes {
		namespace := req.Name
		if idx := strings.Index(namespace, "/"); idx >= 0 {
			namespace = namespace[:idx]
		}

		role, err := s.roles.GetRole(ctx, subject, namespace)
		if err != nil {
			log.Debug().Str("namespace", namespace).Msg("no role for subject, scope dropped")
			continue
		}

		actions := domain.Intersect(req.Actions, role.AllowedActions())
		if len(actions) == 0 {
			continue
		}
		granted = append(granted, domain.Scope{Type: req.Type, Name: req.Name, Actions: actions})
	}

	now := time.Now()
	jti := uuid.NewString()

	access := make([]scopeClaim, len(granted))
	for i, g := range granted {
		access[i] = scopeClaim{Type: string(g.Type), Name: g.Name, Actions: g.Actions}
	}

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
		Access: access,
	}

	method, err := signingMethodFor(s.key.Algorithm())
	if err != nil {
		return "", nil, log.WrapErr(err, "select signing method")
	}
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = s.key.KeyID()

	signed, err := token.SignedString(s.key.PrivateKey())
	if err != nil {
		return "", nil, log.WrapErr(err, "sign token")
	}

	if err := s.store.SaveIssued(ctx, domain.IssuedToken{
		JTI: jti, Subject: subject, IssuedAt: now, ExpiresAt: now.Add(ttl),
	}); err != nil {
		return "", nil, log.WrapErr(err, "record issued token")
	}

	log.Info().Str("jti", jti).Int("granted_scopes", len(granted)).Msg("bearer token issued")
	return signed, granted, nil
}

// Verify parses and validates a bearer token, checking its signature,
// expiry, and revocation status.
func (s *Service) Verify(ctx context.Context, rawToken string) (*domain.TokenClaims, error) {
	_, log := usecaseCtx(ctx, "Verify", nil)

	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.key.PublicKey(), nil
	}, jwt.WithValidMethods([]string{"ES256", "RS256", "PS256"}))
	if err != nil || !parsed.Valid {
		return nil, domain.ErrUnauthorized
	}

	revoked, err := s.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, log.WrapErr(err, "check revocation")
	}
	if revoked {
		return nil, domain.ErrUnauthorized
	}

	access := make([]domain.Scope, len(claims.Access))
	for i, a := range claims.Access {
		access[i] = domain.Scope{Type: domain.ScopeType(a.Type), Name: a.Name, Actions: a.Actions}
	}

	var audience string
	if len(claims.Audience) > 0 {
		audience = claims.Audience[0]
	}

	return &domain.TokenClaims{
		Issuer:    claims.Issuer,
		Subject:   claims.Subject,
		Audience:  audience,
		ExpiresAt: claims.ExpiresAt.Unix(),
		IssuedAt:  claims.IssuedAt.Unix(),
		NotBefore: claims.NotBefore.Unix(),
		JTI:       claims.ID,
		Access:    access,
	}, nil
}

// Revoke marks a previously issued token's JTI as revoked, making future
// Verify calls for it fail.
func (s *Service) Revoke(ctx context.Context, jti string) error {
	return s.store.Revoke(ctx, jti)
}

func signingMethodFor(alg domain.SigningAlgorithm) (jwt.SigningMethod, error) {
	switch alg {
	case domain.SigningAlgES256:
		return jwt.SigningMethodES256, nil
	case domain.SigningAlgRS256:
		return jwt.SigningMethodRS256, nil
	case domain.SigningAlgPS256:
		return jwt.SigningMethodPS256, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", alg)
	}
}

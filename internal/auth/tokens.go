package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/tracking-engine/internal/common"
)

// Tokens verifies and issues HMAC-signed access tokens.
type Tokens struct {
	Secret    []byte
	Validator TokenValidator
	Now       func() time.Time
}

// NewTokens builds an HS256 token service.
func NewTokens(secret, issuer, audience string) *Tokens {
	return &Tokens{
		Secret: []byte(secret),
		Validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: 30 * time.Second,
			Algorithm: jwa.HS256,
		},
	}
}

// Parse verifies token and returns the principal it describes.
func (t *Tokens) Parse(token string) (common.Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return common.Principal{}, unauthorized(errNoToken)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return common.Principal{}, unauthorized(err)
	}
	if t.Validator.Algorithm != "" && algorithm != t.Validator.Algorithm {
		return common.Principal{}, unauthorized(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, t.Secret), jwt.WithValidate(false))
	if err != nil {
		return common.Principal{}, unauthorized(err)
	}
	if err := t.Validator.Validate(parsed, algorithm, t.now()); err != nil {
		return common.Principal{}, unauthorized(err)
	}
	p := common.Principal{Subject: parsed.Subject()}
	if v, ok := parsed.Get(ClaimOrganization); ok {
		p.OrganizationID, _ = v.(string)
	}
	if v, ok := parsed.Get(ClaimRole); ok {
		p.Role, _ = v.(string)
	}
	return p, nil
}

// Issue signs a token for p valid for ttl.
func (t *Tokens) Issue(p common.Principal, ttl time.Duration) (string, error) {
	if p.Subject == "" {
		return "", errors.New("auth: subject required")
	}
	now := t.now()
	b := jwt.NewBuilder().
		Subject(p.Subject).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl))
	if t.Validator.Issuer != "" {
		b = b.Issuer(t.Validator.Issuer)
	}
	if t.Validator.Audience != "" {
		b = b.Audience([]string{t.Validator.Audience})
	}
	if p.OrganizationID != "" {
		b = b.Claim(ClaimOrganization, p.OrganizationID)
	}
	if p.Role != "" {
		b = b.Claim(ClaimRole, p.Role)
	}
	tok, err := b.Build()
	if err != nil {
		return "", err
	}
	alg := t.Validator.Algorithm
	if alg == "" {
		alg = jwa.HS256
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(alg, t.Secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func (t *Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func unauthorized(err error) error {
	return common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, err)
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", fmt.Errorf("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

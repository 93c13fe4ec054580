// Package cloudauth mints the JSON Web Tokens a device presents as its MQTT
// password to the cloud IoT bridge.
//
// A token carries iat, exp and aud (the project ID) and is signed with the
// device private key using RS256 or ES256.
package cloudauth

import (
	"crypto"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
)

// TokenSigner creates device tokens.
type TokenSigner struct {
	config Config
	method jwt.SigningMethod
	key    crypto.PrivateKey
	now    func() time.Time
}

// NewTokenSigner creates a signer for config from a PEM encoded private
// key. RS256 takes an RSA key, ES256 a P-256 key.
func NewTokenSigner(config Config, privateKeyPEM []byte) (*TokenSigner, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &TokenSigner{config: config, now: time.Now}
	var err error
	switch config.Algorithm {
	case RS256:
		s.method = jwt.SigningMethodRS256
		s.key, err = jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	case ES256:
		s.method = jwt.SigningMethodES256
		s.key, err = jwt.ParseECPrivateKeyFromPEM(privateKeyPEM)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s private key: %w", config.Algorithm, err)
	}
	return s, nil
}

// Config returns the device configuration.
func (s *TokenSigner) Config() Config { return s.config }

// Token creates a new token and returns it with its expiry.
func (s *TokenSigner) Token() (string, time.Time, error) {
	now := s.now().Truncate(time.Second)
	expiresAt := now.Add(s.config.TokenLifetime)

	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Audience:  jwt.ClaimStrings{s.config.ProjectID},
	}

	token := jwt.NewWithClaims(s.method, claims)
	tokenString, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}

	logging.Debug(logging.ComponentCloudAuth, "device token created",
		"client_id", s.config.ClientID(), "alg", s.config.Algorithm, "expires", expiresAt)
	return tokenString, expiresAt, nil
}

// Verifier checks device tokens against the device public key.
type Verifier struct {
	projectID string
	alg       Algorithm
	key       crypto.PublicKey
}

// NewVerifier creates a verifier from a PEM encoded public key or
// certificate.
func NewVerifier(projectID string, alg Algorithm, publicKeyPEM []byte) (*Verifier, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project ID: %w", ErrMissingField)
	}

	v := &Verifier{projectID: projectID, alg: alg}
	var err error
	switch alg {
	case RS256:
		v.key, err = jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	case ES256:
		v.key, err = jwt.ParseECPublicKeyFromPEM(publicKeyPEM)
	default:
		return nil, fmt.Errorf("%q: %w", alg, ErrUnsupportedAlgorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s public key: %w", alg, err)
	}
	return v, nil
}

// Verify validates a token and returns its claims. The token must be
// signed with the verifier's algorithm, carry an exp, and name the project
// as audience.
func (v *Verifier) Verify(tokenString string) (*jwt.RegisteredClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token cannot be empty")
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) { return v.key, nil },
		jwt.WithValidMethods([]string{string(v.alg)}),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

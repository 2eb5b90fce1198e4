package keycloak

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
)

// Config locates the Keycloak realm whose tokens guard the molecule API.
type Config struct {
	BaseURL  string `mapstructure:"base_url"`
	Realm    string `mapstructure:"realm"`
	ClientID string `mapstructure:"client_id"`
	// JWKSRefreshInterval re-reads the realm signing keys in the background.
	JWKSRefreshInterval time.Duration `mapstructure:"jwks_refresh_interval"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
}

func (c Config) issuer() string {
	return strings.TrimRight(c.BaseURL, "/") + "/realms/" + c.Realm
}

// Claims is the subset of an access token the API cares about.
type Claims struct {
	Subject   string
	Username  string
	Roles     []string
	ExpiresAt time.Time
}

// HasRole reports whether the token carries role as a realm or client role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, rawToken string) (*Claims, error)
}

var (
	ErrTokenExpired          = errors.New(errors.CodeUnauthorized, "token expired")
	ErrTokenInvalidSignature = errors.New(errors.CodeUnauthorized, "invalid token signature")
	ErrTokenInvalidIssuer    = errors.New(errors.CodeUnauthorized, "invalid token issuer")
	ErrTokenInvalidAudience  = errors.New(errors.CodeUnauthorized, "invalid token audience")
	ErrTokenMalformed        = errors.New(errors.CodeUnauthorized, "malformed token")
	ErrKeycloakUnavailable   = errors.New(errors.CodeUnavailable, "keycloak unavailable")
)

type jwksCache struct {
	mu     sync.RWMutex
	keys   map[string]*rsa.PublicKey
	client *http.Client
	url    string
	logger logging.Logger
}

func (c *jwksCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: %s", resp.Status)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			c.logger.Warn("skipping jwk with bad modulus", logging.String("kid", k.Kid), logging.Err(err))
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			c.logger.Warn("skipping jwk with bad exponent", logging.String("kid", k.Kid), logging.Err(err))
			continue
		}
		exp := 0
		for _, b := range e {
			exp = exp<<8 | int(b)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exp}
	}

	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()
	c.logger.Debug("jwks refreshed", logging.Int("keys", len(keys)))
	return nil
}

func (c *jwksCache) key(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[kid]
	return k, ok
}

// Verifier checks RS256 access tokens against the realm's published keys.
type Verifier struct {
	cfg        Config
	httpClient *http.Client
	jwks       *jwksCache
	logger     logging.Logger
	stop       context.CancelFunc
	done       chan struct{}
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHTTPClient replaces the client used to reach Keycloak.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) {
		v.httpClient = c
	}
}

// NewVerifier fetches the realm keys once and keeps them fresh until Close.
func NewVerifier(ctx context.Context, cfg Config, logger logging.Logger, opts ...Option) (*Verifier, error) {
	if cfg.BaseURL == "" {
		return nil, errors.InvalidParam("keycloak base_url is required")
	}
	if cfg.Realm == "" {
		return nil, errors.InvalidParam("keycloak realm is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.InvalidParam("keycloak client_id is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.JWKSRefreshInterval <= 0 {
		cfg.JWKSRefreshInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	v := &Verifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.jwks = &jwksCache{
		client: v.httpClient,
		url:    cfg.issuer() + "/protocol/openid-connect/certs",
		logger: logger,
	}

	if err := v.jwks.refresh(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "fetch keycloak signing keys")
	}

	bg, cancel := context.WithCancel(context.Background())
	v.stop = cancel
	go v.refreshLoop(bg)
	return v, nil
}

func (v *Verifier) refreshLoop(ctx context.Context) {
	defer close(v.done)
	ticker := time.NewTicker(v.cfg.JWKSRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.jwks.refresh(ctx); err != nil && ctx.Err() == nil {
				v.logger.Error("jwks refresh failed", logging.Err(err))
			}
		}
	}
}

// Close stops the background key refresh.
func (v *Verifier) Close() {
	v.stop()
	<-v.done
}

// VerifyToken validates signature, expiry, issuer and audience. An unknown
// key id triggers one synchronous key refresh so rotated keys are picked up.
func (v *Verifier) VerifyToken(ctx context.Context, rawToken string) (*Claims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrTokenMalformed
		}
		if key, ok := v.jwks.key(kid); ok {
			return key, nil
		}
		if err := v.jwks.refresh(ctx); err != nil {
			return nil, ErrKeycloakUnavailable
		}
		if key, ok := v.jwks.key(kid); ok {
			return key, nil
		}
		return nil, ErrTokenInvalidSignature
	},
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(v.cfg.issuer()),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}

	if !hasAudience(claims, v.cfg.ClientID) {
		return nil, ErrTokenInvalidAudience
	}
	return toClaims(claims), nil
}

func classify(err error) error {
	var appErr *errors.AppError
	switch {
	case stderrors.As(err, &appErr):
		return appErr
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case stderrors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrTokenInvalidIssuer
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenInvalidSignature
	case stderrors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	}
	return errors.Wrap(err, errors.CodeUnauthorized, "token verification failed")
}

// hasAudience accepts the client either in aud or as the authorized party,
// which is how Keycloak issues tokens to public clients.
func hasAudience(claims jwt.MapClaims, clientID string) bool {
	if aud, err := claims.GetAudience(); err == nil {
		for _, a := range aud {
			if a == clientID {
				return true
			}
		}
	}
	azp, _ := claims["azp"].(string)
	return azp == clientID
}

func toClaims(claims jwt.MapClaims) *Claims {
	out := &Claims{}
	out.Subject, _ = claims.GetSubject()
	out.Username, _ = claims["preferred_username"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}

	if realm, ok := claims["realm_access"].(map[string]interface{}); ok {
		out.Roles = append(out.Roles, stringList(realm["roles"])...)
	}
	if resources, ok := claims["resource_access"].(map[string]interface{}); ok {
		for _, access := range resources {
			if m, ok := access.(map[string]interface{}); ok {
				out.Roles = append(out.Roles, stringList(m["roles"])...)
			}
		}
	}
	return out
}

func stringList(v interface{}) []string {
	items, _ := v.([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Health checks that the realm's discovery document is reachable.
func (v *Verifier) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.issuer()+"/.well-known/openid-configuration", nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ErrKeycloakUnavailable.WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ErrKeycloakUnavailable
	}
	return nil
}

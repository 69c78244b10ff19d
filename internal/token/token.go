// Package token exchanges a service-account signing key for short-lived
// bearer tokens used to authenticate against the remote wallet delegate.
package token

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mrz1836/hotvault/internal/metrics"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

// Provider yields a bearer token for delegate calls.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

const (
	// assertionLifetime is how long a signed assertion is valid.
	assertionLifetime = time.Hour

	// refreshMargin refreshes the cached bearer slightly before its
	// reported expiry so in-flight calls never carry a dead token.
	refreshMargin = time.Minute

	grantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// JWTProvider signs an RS256 assertion with a service-account key and
// exchanges it at a token endpoint. The resulting bearer is cached until
// shortly before expiry. Exchange failures are returned as-is; the caller
// decides whether the operation is worth repeating.
type JWTProvider struct {
	httpClient  *http.Client
	tokenURL    string
	audience    string
	clientEmail string
	key         *rsa.PrivateKey

	now func() time.Time

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// Option customizes a JWTProvider.
type Option func(*JWTProvider)

// WithHTTPClient sets the HTTP client used for the exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(p *JWTProvider) { p.httpClient = c }
}

// WithClock overrides the provider's time source.
func WithClock(now func() time.Time) Option {
	return func(p *JWTProvider) { p.now = now }
}

// NewJWTProvider loads the PEM-encoded RSA signing key at keyFile and
// returns a provider exchanging assertions at tokenURL.
func NewJWTProvider(tokenURL, audience, clientEmail, keyFile string, opts ...Option) (*JWTProvider, error) {
	key, err := loadSigningKey(keyFile)
	if err != nil {
		return nil, err
	}

	p := &JWTProvider{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		tokenURL:    tokenURL,
		audience:    audience,
		clientEmail: clientEmail,
		key:         key,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Token implements Provider. It returns the cached bearer while valid and
// performs one exchange otherwise; concurrent callers share the result.
func (p *JWTProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && p.now().Before(p.expiresAt.Add(-refreshMargin)) {
		return p.cached, nil
	}

	bearer, expiresIn, err := p.exchange(ctx)
	if err != nil {
		return "", err
	}

	p.cached = bearer
	p.expiresAt = p.now().Add(expiresIn)
	metrics.Global.RecordTokenRefresh()
	return bearer, nil
}

// Invalidate discards the cached bearer so the next Token call exchanges
// a fresh assertion.
func (p *JWTProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = ""
	p.expiresAt = time.Time{}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *JWTProvider) exchange(ctx context.Context) (string, time.Duration, error) {
	assertion, err := p.signAssertion()
	if err != nil {
		return "", 0, err
	}

	form := url.Values{
		"grant_type": {grantType},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, vaulterr.Wrap(err, "building token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, vaulterr.WithDetails(
			vaulterr.Wrap(vaulterr.ErrTokenExchange, "posting assertion: %v", err),
			map[string]string{"endpoint": p.tokenURL})
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, vaulterr.Wrap(err, "reading token response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, vaulterr.WithDetails(vaulterr.ErrTokenExchange, map[string]string{
			"endpoint":    p.tokenURL,
			"http_status": fmt.Sprintf("%d", resp.StatusCode),
		})
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, vaulterr.Wrap(err, "decoding token response")
	}
	if tr.AccessToken == "" {
		return "", 0, vaulterr.WithDetails(vaulterr.ErrTokenExchange,
			map[string]string{"endpoint": p.tokenURL, "reason": "empty access_token"})
	}

	expiresIn := time.Duration(tr.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = assertionLifetime
	}
	return tr.AccessToken, expiresIn, nil
}

func (p *JWTProvider) signAssertion() (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.clientEmail,
		Subject:   p.clientEmail,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.key)
	if err != nil {
		return "", vaulterr.Wrap(err, "signing assertion")
	}
	return signed, nil
}

func loadSigningKey(keyFile string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(keyFile) //nolint:gosec // G304: path comes from validated config
	if err != nil {
		return nil, vaulterr.Wrap(err, "reading signing key")
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidInput,
			map[string]string{"key_file": "not PEM encoded"})
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, vaulterr.Wrap(err, "parsing signing key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidInput,
			map[string]string{"key_file": "not an RSA key"})
	}
	return key, nil
}

// Package auth verifies Firebase ID tokens presented as bearer tokens.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"authrax/pkg/authrax"
	"github.com/golang-jwt/jwt/v4"
)

// DefaultCertsURL publishes the x509 certificates that sign Firebase ID tokens.
const DefaultCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

const (
	defaultKeyTTL = time.Hour
	maxCertBytes  = 1 << 20
)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// Config holds verifier configuration.
type Config struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	ProjectID  string
	CertsURL   string
}

// Firebase verifies RS256 ID tokens issued for one Firebase project.
type Firebase struct {
	http      *http.Client
	logger    *slog.Logger
	keys      map[string]*rsa.PublicKey
	expires   time.Time
	projectID string
	certsURL  string
	mu        sync.Mutex
}

// NewFirebase creates a verifier for cfg.ProjectID.
func NewFirebase(cfg *Config) *Firebase {
	f := &Firebase{
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
		projectID: cfg.ProjectID,
		certsURL:  cfg.CertsURL,
	}
	if f.http == nil {
		f.http = &http.Client{Timeout: 10 * time.Second}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.certsURL == "" {
		f.certsURL = DefaultCertsURL
	}
	return f
}

// Verify checks the token signature, issuer, audience and expiry and returns
// the Firebase uid.
func (f *Firebase) Verify(ctx context.Context, raw string) (string, error) {
	const op = "auth.verify"

	var claims jwt.RegisteredClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		return f.key(ctx, kid)
	})
	if err != nil {
		if authrax.IsKind(err, authrax.UpstreamUnavailable) {
			return "", authrax.E(authrax.UpstreamUnavailable, op, err)
		}
		return "", authrax.E(authrax.Unauthenticated, op, err)
	}

	issuer := "https://securetoken.google.com/" + f.projectID
	if !claims.VerifyIssuer(issuer, true) {
		return "", authrax.Errorf(authrax.Unauthenticated, op, "unexpected issuer %q", claims.Issuer)
	}
	if !claims.VerifyAudience(f.projectID, true) {
		return "", authrax.Errorf(authrax.Unauthenticated, op, "unexpected audience %v", claims.Audience)
	}
	if claims.Subject == "" {
		return "", authrax.Errorf(authrax.Unauthenticated, op, "token has no subject")
	}
	return claims.Subject, nil
}

// key returns the public key for kid, refreshing the certificate set when it
// has expired or does not contain kid.
func (f *Firebase) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if k, ok := f.keys[kid]; ok && time.Now().Before(f.expires) {
		return k, nil
	}
	if err := f.refresh(ctx); err != nil {
		return nil, authrax.E(authrax.UpstreamUnavailable, "auth.refresh_keys", err)
	}
	k, ok := f.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return k, nil
}

func (f *Firebase) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.certsURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch certificates: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch certificates: HTTP %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCertBytes)).Decode(&certs); err != nil {
		return fmt.Errorf("decode certificates: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pem := range certs {
		k, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			f.logger.Warn("Skipping unparseable signing certificate", "kid", kid, "error", err)
			continue
		}
		keys[kid] = k
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	f.keys = keys
	f.expires = time.Now().Add(ttl)
	f.logger.Info("Token signing keys refreshed", "keys", len(keys), "ttl", ttl.String())
	return nil
}

// maxAge reads max-age from a Cache-Control header, defaulting to one hour.
func maxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultKeyTTL
}

// Insecure accepts any well-formed token without checking its signature. It
// is only for local development against the Auth emulator.
type Insecure struct {
	logger *slog.Logger
}

// NewInsecure creates a verifier that trusts token contents.
func NewInsecure(logger *slog.Logger) *Insecure {
	logger.Warn("Token signatures are not verified (local mode)")
	return &Insecure{logger: logger}
}

// Verify returns the sub or user_id claim of raw.
func (v *Insecure) Verify(_ context.Context, raw string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", authrax.E(authrax.Unauthenticated, "auth.verify_insecure", err)
	}
	for _, name := range []string{"sub", "user_id"} {
		if uid, ok := claims[name].(string); ok && uid != "" {
			return uid, nil
		}
	}
	return "", authrax.Errorf(authrax.Unauthenticated, "auth.verify_insecure", "token has no subject")
}
